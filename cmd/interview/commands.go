package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-interview/pkg/interview/store"
)

func newUploadResumeCmd(a *app) *cobra.Command {
	var file, jobDescription string
	cmd := &cobra.Command{
		Use:   "upload-resume",
		Short: "Upload a resume and prepare the interview questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			ctx := cmd.Context()
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open resume: %w", err)
			}
			defer f.Close()

			be, err := a.deps.newBackend(a.cfg, a.logger)
			if err != nil {
				return err
			}
			ack, err := be.UploadResume(ctx, filepath.Base(file), f, jobDescription)
			if err != nil {
				return err
			}

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := store.NewSessionStore(st, a.logger).SetTotalQuestions(ctx, ack.TotalQuestions); err != nil {
				return fmt.Errorf("save question count: %w", err)
			}
			fmt.Fprintf(a.out, "Resume uploaded; %d questions prepared.\n", ack.TotalQuestions)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "resume file to upload (PDF or DOCX)")
	cmd.Flags().StringVar(&jobDescription, "job-description", "", "job description the questions are tailored to")
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the interview report",
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := a.deps.newBackend(a.cfg, a.logger)
			if err != nil {
				return err
			}
			report, err := be.InterviewReport(cmd.Context())
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(a.out)
			enc.SetIndent(2)
			if err := enc.Encode(report); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard persisted interview progress and queued answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Interview state cleared.")
			return nil
		},
	}
}
