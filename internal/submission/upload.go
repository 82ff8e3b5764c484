package submission

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/sempr/labjudge/pkg/constants"
	"github.com/sempr/labjudge/pkg/models"
)

// CopyFile copies the file from src to dst, keeping its permissions.
func CopyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	destinationFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer destinationFile.Close()

	if _, err := io.Copy(destinationFile, sourceFile); err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}

	sourceInfo, err := os.Stat(src)
	if err == nil {
		if err := os.Chmod(dst, sourceInfo.Mode()); err != nil {
			return fmt.Errorf("failed to set file permissions: %w", err)
		}
	}
	return nil
}

// PrepareJob places the source in <uploads>/<student>/<question>/solution.cpp
// and builds the job for it. The directory is exclusive to that submission.
func PrepareJob(uploads, studentID, questionID, labSessionID, source string, cases []models.TestCase) (*models.Job, error) {
	dir, err := filepath.Abs(filepath.Join(uploads, studentID, questionID))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	dst := filepath.Join(dir, constants.SourceName)
	if err := CopyFile(source, dst); err != nil {
		return nil, err
	}
	// stale binaries from an earlier attempt must not be run
	os.Remove(filepath.Join(dir, constants.BinaryName))

	job := &models.Job{
		StudentID:    studentID,
		QuestionID:   questionID,
		LabSessionID: labSessionID,
		SourcePath:   dst,
		WorkDir:      dir,
		TestCases:    cases,
	}
	return job, job.Validate()
}

type testFile struct {
	Tests []models.TestCase `toml:"tests" json:"tests"`
}

// LoadTestCases reads test cases from a .toml file ([[tests]] tables) or a
// .json file (either {"tests": [...]} or a bare array).
func LoadTestCases(path string) ([]models.TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test cases: %w", err)
	}
	var tf testFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &tf)
	case ".json":
		if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "[") {
			err = json.Unmarshal(data, &tf.Tests)
		} else {
			err = json.Unmarshal(data, &tf)
		}
	default:
		return nil, fmt.Errorf("unsupported test case file %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse test cases %s: %w", path, err)
	}
	if len(tf.Tests) == 0 {
		return nil, fmt.Errorf("no test cases in %s", path)
	}
	return tf.Tests, nil
}
