package sftpx

import (
	"context"
	"io"
	"mime"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/sftp"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

// Gate is the back-pressure valve for downloads. The adapter suspends it
// while the socket's outbound queue is above the high-water mark and
// resumes it on drain; the download loop waits on it before each read.
type Gate struct {
	mu        sync.Mutex
	suspended bool
	resume    chan struct{}
}

func NewGate() *Gate {
	return &Gate{resume: make(chan struct{})}
}

func (g *Gate) Suspend() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.suspended {
		g.suspended = true
		g.resume = make(chan struct{})
	}
}

func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.suspended {
		g.suspended = false
		close(g.resume)
	}
}

// Wait blocks while the gate is suspended.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	suspended, resume := g.suspended, g.resume
	g.mu.Unlock()
	if !suspended {
		return nil
	}
	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Upload is one in-flight chunked upload. Chunks must arrive in sequence
// order; the partial remote file is removed on cancel or error.
type Upload struct {
	ID       string
	target   string
	file     *sftp.File
	expected int64
	written  int64
	nextSeq  int
}

// Download is one in-flight chunked download.
type Download struct {
	ID     string
	Size   int64
	Mime   string
	cancel context.CancelFunc
}

// UploadResult reports a finished upload.
type UploadResult struct {
	ID    string
	Bytes int64
}

// DownloadEvents receives the outbound frames of one download. Chunk may
// block; the manager stops the transfer when it returns an error.
type DownloadEvents struct {
	// Ready fires on the transfer goroutine before the first chunk, so
	// the ready frame always precedes chunk frames. Optional.
	Ready    func(id string, size int64, mimeType string)
	Chunk    func(id string, seq int, data []byte) error
	Complete func(id string, bytes int64)
	Error    func(id string, err error)
}

// Manager tracks the active transfers of one socket. Transfer IDs are
// generated server-side; client-supplied IDs never enter the maps.
type Manager struct {
	client      *Client
	maxFileSize int64
	chunkSize   int

	mu        sync.Mutex
	uploads   map[string]*Upload
	downloads map[string]*Download
}

func NewManager(client *Client, maxFileSize int64, chunkSize int) *Manager {
	return &Manager{
		client:      client,
		maxFileSize: maxFileSize,
		chunkSize:   chunkSize,
		uploads:     make(map[string]*Upload),
		downloads:   make(map[string]*Download),
	}
}

// ChunkSize is the negotiated chunk size announced in upload-ready.
func (m *Manager) ChunkSize() int { return m.chunkSize }

// StartUpload validates the request, creates the remote file, and returns
// the new transfer ID.
func (m *Manager) StartUpload(remotePath, fileName string, fileSize int64, overwrite bool) (string, error) {
	if err := ValidatePath(remotePath); err != nil {
		return "", err
	}
	if err := ValidatePath(fileName); err != nil {
		return "", err
	}
	if fileSize < 0 || fileSize > m.maxFileSize {
		return "", gwerrors.Newf(gwerrors.KindValidation, "file_too_large",
			"file size %d exceeds limit %d", fileSize, m.maxFileSize)
	}

	target := path.Join(remotePath, fileName)
	if !overwrite {
		if _, err := m.client.sftp.Lstat(target); err == nil {
			return "", gwerrors.New(gwerrors.KindValidation, "file_exists",
				"remote file already exists")
		}
	}

	f, err := m.client.sftp.Create(target)
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.KindSSH, "sftp_create", "create remote file", err)
	}

	up := &Upload{ID: uuid.NewString(), target: target, file: f, expected: fileSize}
	m.mu.Lock()
	m.uploads[up.ID] = up
	m.mu.Unlock()
	return up.ID, nil
}

// WriteChunk persists one upload chunk. Chunks are acked in sequence; an
// out-of-order seq aborts the transfer. done reports completion, with the
// total bytes written.
func (m *Manager) WriteChunk(id string, seq int, data []byte) (done bool, bytes int64, err error) {
	m.mu.Lock()
	up, ok := m.uploads[id]
	m.mu.Unlock()
	if !ok {
		return false, 0, gwerrors.New(gwerrors.KindValidation, "unknown_transfer",
			"no such upload")
	}

	if seq != up.nextSeq {
		m.abortUpload(up)
		return false, 0, gwerrors.Newf(gwerrors.KindTransport, "chunk_out_of_order",
			"expected chunk %d, got %d", up.nextSeq, seq)
	}
	if up.written+int64(len(data)) > up.expected {
		m.abortUpload(up)
		return false, 0, gwerrors.New(gwerrors.KindValidation, "file_too_large",
			"upload exceeds declared file size")
	}

	if _, werr := up.file.Write(data); werr != nil {
		m.abortUpload(up)
		return false, 0, gwerrors.Wrap(gwerrors.KindSSH, "sftp_write", "write remote chunk", werr)
	}
	up.written += int64(len(data))
	up.nextSeq++

	if up.written == up.expected {
		_ = up.file.Close()
		m.mu.Lock()
		delete(m.uploads, id)
		m.mu.Unlock()
		return true, up.written, nil
	}
	return false, up.written, nil
}

// CancelUpload aborts an upload and removes the partial remote file.
// Unknown IDs are ignored.
func (m *Manager) CancelUpload(id string) {
	m.mu.Lock()
	up, ok := m.uploads[id]
	m.mu.Unlock()
	if ok {
		m.abortUpload(up)
	}
}

func (m *Manager) abortUpload(up *Upload) {
	_ = up.file.Close()
	_ = m.client.sftp.Remove(up.target)
	m.mu.Lock()
	delete(m.uploads, up.ID)
	m.mu.Unlock()
}

// StartDownload opens the remote file and streams it as sequenced chunks
// on a background goroutine. Size and MIME type come back immediately for
// the download-ready frame.
func (m *Manager) StartDownload(ctx context.Context, remotePath string, gate *Gate, events DownloadEvents) (*Download, error) {
	if err := ValidatePath(remotePath); err != nil {
		return nil, err
	}
	fi, err := m.client.sftp.Stat(remotePath)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindSSH, "sftp_stat", "stat remote path", err)
	}
	if fi.IsDir() {
		return nil, gwerrors.New(gwerrors.KindValidation, "not_a_file",
			"cannot download a directory")
	}
	if fi.Size() > m.maxFileSize {
		return nil, gwerrors.Newf(gwerrors.KindValidation, "file_too_large",
			"file size %d exceeds limit %d", fi.Size(), m.maxFileSize)
	}

	f, err := m.client.sftp.Open(remotePath)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindSSH, "sftp_open_file", "open remote file", err)
	}

	mimeType := mime.TypeByExtension(path.Ext(remotePath))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	dctx, cancel := context.WithCancel(ctx)
	dl := &Download{ID: uuid.NewString(), Size: fi.Size(), Mime: mimeType, cancel: cancel}
	m.mu.Lock()
	m.downloads[dl.ID] = dl
	m.mu.Unlock()

	go m.pumpDownload(dctx, dl, f, gate, events)
	return dl, nil
}

func (m *Manager) pumpDownload(ctx context.Context, dl *Download, f *sftp.File, gate *Gate, events DownloadEvents) {
	defer f.Close()
	defer func() {
		m.mu.Lock()
		delete(m.downloads, dl.ID)
		m.mu.Unlock()
	}()

	if events.Ready != nil {
		events.Ready(dl.ID, dl.Size, dl.Mime)
	}

	buf := make([]byte, m.chunkSize)
	var total int64
	seq := 0
	for {
		if gate != nil {
			if err := gate.Wait(ctx); err != nil {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		n, rerr := f.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if err := events.Chunk(dl.ID, seq, data); err != nil {
				return
			}
			total += int64(n)
			seq++
		}
		if rerr == io.EOF {
			events.Complete(dl.ID, total)
			return
		}
		if rerr != nil {
			events.Error(dl.ID, gwerrors.Wrap(gwerrors.KindSSH, "sftp_read",
				"read remote file", rerr))
			return
		}
	}
}

// CancelDownload stops an in-flight download. Unknown IDs are ignored.
func (m *Manager) CancelDownload(id string) {
	m.mu.Lock()
	dl, ok := m.downloads[id]
	m.mu.Unlock()
	if ok {
		dl.cancel()
	}
}

// Close cancels every in-flight transfer. Called on socket close.
func (m *Manager) Close() {
	m.mu.Lock()
	uploads := make([]*Upload, 0, len(m.uploads))
	for _, up := range m.uploads {
		uploads = append(uploads, up)
	}
	downloads := make([]*Download, 0, len(m.downloads))
	for _, dl := range m.downloads {
		downloads = append(downloads, dl)
	}
	m.mu.Unlock()

	for _, up := range uploads {
		m.abortUpload(up)
	}
	for _, dl := range downloads {
		dl.cancel()
	}
}
