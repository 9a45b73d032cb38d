// Package bpffs knows where a pipeline's objects live on the BPF
// filesystem and whether that filesystem is mounted.
//
// A pipeline with id N is pinned as:
//
//	{root}/{prefix}N/            - pipeline directory
//	{root}/{prefix}N/{program}   - pinned entry programs (carry BTF)
//	{root}/{prefix}N/maps/{name} - pinned maps
package bpffs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	// DefaultMountInfoPath is the path to the mountinfo file.
	DefaultMountInfoPath = "/proc/self/mountinfo"

	// defaultScanMaxLineLen is the maximum line length for
	// scanning mountinfo. Some nodes/runtimes can produce long
	// lines; this prevents ErrTooLong.
	defaultScanMaxLineLen = 1024 * 1024
)

// ErrNotMounted is returned when the configured root is not a bpffs.
var ErrNotMounted = errors.New("bpffs not mounted")

// Root represents a bpffs mount point path.
// This is a newtype to prevent accidentally passing arbitrary strings
// where a bpffs root is expected.
type Root string

// String returns the path as a string.
func (r Root) String() string { return string(r) }

// MapPath is the pin path of a single map.
type MapPath string

// String returns the path as a string.
func (p MapPath) String() string { return string(p) }

// ProgramPath is the pin path of a single program.
type ProgramPath string

// String returns the path as a string.
func (p ProgramPath) String() string { return string(p) }

// IsBPFFS reports whether path is on a bpf filesystem, using the
// filesystem magic reported by statfs(2).
func IsBPFFS(path string) (bool, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, fmt.Errorf("statfs %s: %w", path, err)
	}
	return uint32(st.Type) == uint32(unix.BPF_FS_MAGIC), nil
}

// CheckMounted returns ErrNotMounted unless root is a bpffs.
func CheckMounted(root Root) error {
	ok, err := IsBPFFS(root.String())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", root, ErrNotMounted)
	}
	return nil
}

// IsMounted reports whether a bpffs is mounted at mountPoint by
// parsing mountInfoPath (e.g. /proc/self/mountinfo).
//
// The mountinfo format is documented in proc(5). Each line contains:
//
//	mount_id parent_id major:minor root mount_point options [optional_fields...] - fstype source super_options
//
// The separator " - " must be found using string search, not by
// assuming a fixed field position: optional fields (like "shared:N")
// may appear between the mount options and the separator.
func IsMounted(mountInfoPath, mountPoint string) (bool, error) {
	file, err := os.Open(mountInfoPath)
	if err != nil {
		return false, fmt.Errorf("opening mountinfo: %w", err)
	}
	defer file.Close()

	want := filepath.Clean(mountPoint)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), defaultScanMaxLineLen)

	for scanner.Scan() {
		line := scanner.Text()

		sepIdx := strings.Index(line, " - ")
		if sepIdx == -1 {
			continue
		}

		fields := strings.Fields(line[:sepIdx])
		if len(fields) < 5 {
			continue
		}

		suffixFields := strings.Fields(line[sepIdx+3:])
		if len(suffixFields) < 1 {
			continue
		}

		if filepath.Clean(fields[4]) == want && suffixFields[0] == "bpf" {
			return true, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("reading mountinfo: %w", err)
	}

	return false, nil
}
