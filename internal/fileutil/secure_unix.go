//go:build !windows

package fileutil

import "os"

// SecureWriteFile writes data to a file with owner-only permissions (0600).
// On Unix, the standard file mode bits are enforced by the kernel.
func SecureWriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0600)
}

// SecureMkdirAll creates a directory tree with owner-only permissions (0700).
// On Unix, the standard file mode bits are enforced by the kernel.
func SecureMkdirAll(path string) error {
	return os.MkdirAll(path, 0700)
}

// SecureChmod tightens an existing file to owner-only permissions (0600).
// os.WriteFile keeps the mode of a pre-existing file, so a file created
// earlier with looser permissions must be re-chmodded after overwrite.
func SecureChmod(path string) error {
	return os.Chmod(path, 0600)
}
