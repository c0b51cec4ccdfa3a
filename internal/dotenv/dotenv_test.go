package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file error: %v", err)
	}
}

func TestLoadFile_LoadsValuesAndPreservesExisting(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# interview settings\n" +
		"INTERVIEW_BACKEND_BASE_URL=http://10.0.0.5:8000\n" +
		"INTERVIEW_TEST_QUOTED=\"hello world\"\n" +
		"export INTERVIEW_TEST_EXPORTED=ok\n" +
		"INTERVIEW_STORE_DSN=sqlite://from-file.db\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("INTERVIEW_STORE_DSN", "memory://")
	for _, k := range []string{"INTERVIEW_BACKEND_BASE_URL", "INTERVIEW_TEST_QUOTED", "INTERVIEW_TEST_EXPORTED"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if got := os.Getenv("INTERVIEW_BACKEND_BASE_URL"); got != "http://10.0.0.5:8000" {
		t.Fatalf("INTERVIEW_BACKEND_BASE_URL=%q", got)
	}
	if got := os.Getenv("INTERVIEW_TEST_QUOTED"); got != "hello world" {
		t.Fatalf("INTERVIEW_TEST_QUOTED=%q, want %q", got, "hello world")
	}
	if got := os.Getenv("INTERVIEW_TEST_EXPORTED"); got != "ok" {
		t.Fatalf("INTERVIEW_TEST_EXPORTED=%q, want %q", got, "ok")
	}
	if got := os.Getenv("INTERVIEW_STORE_DSN"); got != "memory://" {
		t.Fatalf("INTERVIEW_STORE_DSN=%q, want existing value preserved", got)
	}
}

func TestLoadFile_MalformedFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("INTERVIEW_TEST_BAD=\"unterminated\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("INTERVIEW_TEST_BAD", "")
	os.Unsetenv("INTERVIEW_TEST_BAD")
	if err := LoadFile(envPath); err == nil {
		t.Fatalf("expected parse error")
	}
}
