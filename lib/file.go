package lib

import (
	"os"
	"path/filepath"
	"time"
)

// TempPrefix starts the name of the files being written
const TempPrefix = ".tmp-"

// WriteFileAtomic writes into a temporary file of the same directory, sets its
// modification time (unless zero) then renames it to filename.
// A crash never leaves a partial file at filename.
func WriteFileAtomic(filename string, data []byte, modTime time.Time) error {
	file, err := os.CreateTemp(filepath.Dir(filename), TempPrefix+"*")
	if err != nil {
		return err
	}
	tempName := file.Name()
	_, err = file.Write(data)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil && !modTime.IsZero() {
		err = os.Chtimes(tempName, time.Now(), modTime)
	}
	if err == nil {
		err = os.Chmod(tempName, 0600)
	}
	if err == nil {
		err = os.Rename(tempName, filename)
	}
	if err != nil {
		_ = os.Remove(tempName)
		return err
	}
	return nil
}
