// Package sftpx implements the SFTP subsystem: directory and file
// operations over the session's authenticated SSH connection, and the
// chunked upload/download state machines with ack-based flow control.
package sftpx

import (
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

// Client wraps an SFTP session opened over an existing SSH connection.
// It lives as long as the owning socket; Close releases the subsystem
// channel but not the SSH connection.
type Client struct {
	sftp *sftp.Client
}

// NewClient opens the SFTP subsystem on an authenticated SSH client.
func NewClient(sshClient *cryptossh.Client) (*Client, error) {
	sc, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindSSH, "sftp_open", "open SFTP subsystem", err)
	}
	return &Client{sftp: sc}, nil
}

// Close releases the SFTP channel.
func (c *Client) Close() error {
	return c.sftp.Close()
}

// ValidatePath rejects empty paths and paths containing a null byte.
func ValidatePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return gwerrors.New(gwerrors.KindValidation, "invalid_path", "path must not be empty")
	}
	if strings.ContainsRune(p, 0) {
		return gwerrors.New(gwerrors.KindValidation, "invalid_path", "path contains a null byte")
	}
	return nil
}

// Entry is one file, directory, or symlink.
type Entry struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Type       string    `json:"type"` // "file" | "dir" | "symlink"
	Size       int64     `json:"size"`
	Mode       string    `json:"mode"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

func entryType(fi os.FileInfo) string {
	switch {
	case fi.IsDir():
		return "dir"
	case fi.Mode()&os.ModeSymlink != 0:
		return "symlink"
	default:
		return "file"
	}
}

// List returns all entries, dot-files included, in the remote directory.
func (c *Client) List(dirPath string) ([]Entry, error) {
	if err := ValidatePath(dirPath); err != nil {
		return nil, err
	}
	infos, err := c.sftp.ReadDir(dirPath)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindSSH, "sftp_list", "read remote directory", err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		full := path.Join(dirPath, fi.Name())
		// Lstat so symlinks report as symlinks, not their targets.
		if lfi, lerr := c.sftp.Lstat(full); lerr == nil {
			fi = lfi
		}
		entries = append(entries, Entry{
			Name:       fi.Name(),
			Path:       full,
			Type:       entryType(fi),
			Size:       fi.Size(),
			Mode:       fi.Mode().String(),
			ModifiedAt: fi.ModTime().UTC(),
		})
	}
	return entries, nil
}

// Stat returns metadata for a single remote path.
func (c *Client) Stat(p string) (Entry, error) {
	if err := ValidatePath(p); err != nil {
		return Entry{}, err
	}
	fi, err := c.sftp.Lstat(p)
	if err != nil {
		return Entry{}, gwerrors.Wrap(gwerrors.KindSSH, "sftp_stat", "stat remote path", err)
	}
	return Entry{
		Name:       fi.Name(),
		Path:       p,
		Type:       entryType(fi),
		Size:       fi.Size(),
		Mode:       fi.Mode().String(),
		ModifiedAt: fi.ModTime().UTC(),
	}, nil
}

// Mkdir creates a directory. Intermediate directories are not created.
func (c *Client) Mkdir(p string) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	if err := c.sftp.Mkdir(p); err != nil {
		return gwerrors.Wrap(gwerrors.KindSSH, "sftp_mkdir", "create remote directory", err)
	}
	return nil
}

// Delete removes a file, a symlink, or an empty directory.
func (c *Client) Delete(p string) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	fi, err := c.sftp.Lstat(p)
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindSSH, "sftp_stat", "stat remote path", err)
	}
	if fi.IsDir() && fi.Mode()&os.ModeSymlink == 0 {
		if err := c.sftp.RemoveDirectory(p); err != nil {
			return gwerrors.Wrap(gwerrors.KindSSH, "sftp_rmdir", "remove remote directory", err)
		}
		return nil
	}
	if err := c.sftp.Remove(p); err != nil {
		return gwerrors.Wrap(gwerrors.KindSSH, "sftp_remove", "remove remote file", err)
	}
	return nil
}
