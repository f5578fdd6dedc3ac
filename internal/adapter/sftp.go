package adapter

import (
	"encoding/json"

	"github.com/webssh2/webssh2/internal/gwerrors"
	"github.com/webssh2/webssh2/internal/logging"
	"github.com/webssh2/webssh2/internal/sftpx"
)

type sftpPathPayload struct {
	Path string `json:"path"`
}

type sftpUploadStartPayload struct {
	RemotePath string `json:"remotePath"`
	FileName   string `json:"fileName"`
	FileSize   int64  `json:"fileSize"`
	MimeType   string `json:"mimeType"`
	Overwrite  bool   `json:"overwrite"`
	// TransferID must never be set by clients; the request is dropped
	// when it is.
	TransferID string `json:"transferId"`
}

type sftpChunkPayload struct {
	TransferID string `json:"transferId"`
	Seq        int    `json:"seq"`
	Data       []byte `json:"data"` // base64 on the wire
}

type sftpTransferRefPayload struct {
	TransferID string `json:"transferId"`
}

// handleSFTP routes one sftp-* event. The SFTP channel and transfer
// manager are opened lazily on first use.
func (a *Adapter) handleSFTP(event string, raw json.RawMessage) {
	mgr, client, err := a.ensureSFTP()
	if err != nil {
		a.emitSFTPError("", err)
		return
	}

	switch event {
	case evSFTPList:
		var p sftpPathPayload
		if json.Unmarshal(raw, &p) != nil {
			return
		}
		entries, err := client.List(p.Path)
		if err != nil {
			a.emitSFTPError("", err)
			return
		}
		a.record(logging.LevelInfo, logging.EventSFTPList, func(r *logging.Record) {
			r.Subsystem = "sftp"
			r.Details = map[string]any{"path": p.Path, "entries": len(entries)}
		})
		a.emit(outSFTPDirectory, map[string]any{"path": p.Path, "entries": entries})

	case evSFTPStat:
		var p sftpPathPayload
		if json.Unmarshal(raw, &p) != nil {
			return
		}
		entry, err := client.Stat(p.Path)
		if err != nil {
			a.emitSFTPError("", err)
			return
		}
		a.record(logging.LevelInfo, logging.EventSFTPStat, func(r *logging.Record) {
			r.Subsystem = "sftp"
			r.Details = map[string]any{"path": p.Path}
		})
		a.emit(outSFTPStatResult, entry)

	case evSFTPMkdir:
		var p sftpPathPayload
		if json.Unmarshal(raw, &p) != nil {
			return
		}
		a.sftpOperation(logging.EventSFTPMkdir, "mkdir", p.Path, client.Mkdir(p.Path))

	case evSFTPDelete:
		var p sftpPathPayload
		if json.Unmarshal(raw, &p) != nil {
			return
		}
		a.sftpOperation(logging.EventSFTPDelete, "delete", p.Path, client.Delete(p.Path))

	case evSFTPUpStart:
		a.handleUploadStart(mgr, raw)

	case evSFTPUpChunk:
		a.handleUploadChunk(mgr, raw)

	case evSFTPUpCancel:
		var p sftpTransferRefPayload
		if json.Unmarshal(raw, &p) != nil {
			return
		}
		mgr.CancelUpload(p.TransferID)

	case evSFTPDownStart:
		a.handleDownloadStart(mgr, raw)

	case evSFTPDownCancel:
		var p sftpTransferRefPayload
		if json.Unmarshal(raw, &p) != nil {
			return
		}
		mgr.CancelDownload(p.TransferID)
	}
}

// ensureSFTP opens the SFTP channel over the session's SSH connection.
func (a *Adapter) ensureSFTP() (*sftpx.Manager, *sftpx.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.transfers != nil {
		return a.transfers, a.sftpClient, nil
	}
	if a.conn == nil {
		return nil, nil, gwerrors.New(gwerrors.KindSSH, "not_connected", "not connected")
	}
	client, err := sftpx.NewClient(a.conn.Client())
	if err != nil {
		return nil, nil, err
	}
	a.sftpClient = client
	a.transfers = sftpx.NewManager(client, a.cfg.SFTP.MaxFileSize, a.cfg.SFTP.ChunkSize)
	return a.transfers, client, nil
}

func (a *Adapter) sftpOperation(event, op, path string, err error) {
	if err != nil {
		a.emit(outSFTPOpResult, map[string]any{
			"operation": op, "path": path, "success": false, "error": err.Error(),
		})
		return
	}
	a.record(logging.LevelInfo, event, func(r *logging.Record) {
		r.Subsystem = "sftp"
		r.Details = map[string]any{"path": path}
	})
	a.emit(outSFTPOpResult, map[string]any{
		"operation": op, "path": path, "success": true,
	})
}

func (a *Adapter) handleUploadStart(mgr *sftpx.Manager, raw json.RawMessage) {
	var p sftpUploadStartPayload
	if json.Unmarshal(raw, &p) != nil {
		return
	}
	// Transfer ids are server-generated only.
	if p.TransferID != "" {
		return
	}

	id, err := mgr.StartUpload(p.RemotePath, p.FileName, p.FileSize, p.Overwrite)
	if err != nil {
		a.emitSFTPError("", err)
		return
	}
	a.record(logging.LevelInfo, logging.EventSFTPUploadStart, func(r *logging.Record) {
		r.Subsystem = "sftp"
		r.Details = map[string]any{"path": p.RemotePath, "file": p.FileName, "size": p.FileSize}
	})
	a.emit(outSFTPUpReady, map[string]any{
		"transferId": id,
		"chunkSize":  mgr.ChunkSize(),
	})
}

func (a *Adapter) handleUploadChunk(mgr *sftpx.Manager, raw json.RawMessage) {
	var p sftpChunkPayload
	if json.Unmarshal(raw, &p) != nil {
		return
	}
	done, bytes, err := mgr.WriteChunk(p.TransferID, p.Seq, p.Data)
	if err != nil {
		a.emitSFTPError(p.TransferID, err)
		return
	}
	a.bytesIn.Add(int64(len(p.Data)))
	a.emit(outSFTPUpAck, map[string]any{"transferId": p.TransferID, "seq": p.Seq})
	a.emit(outSFTPProgress, map[string]any{"transferId": p.TransferID, "bytes": bytes})
	if done {
		a.record(logging.LevelInfo, logging.EventSFTPUploadDone, func(r *logging.Record) {
			r.Subsystem = "sftp"
			r.BytesIn = bytes
		})
		a.emit(outSFTPComplete, map[string]any{"transferId": p.TransferID, "bytes": bytes})
	}
}

func (a *Adapter) handleDownloadStart(mgr *sftpx.Manager, raw json.RawMessage) {
	var p sftpPathPayload
	if json.Unmarshal(raw, &p) != nil {
		return
	}

	events := sftpx.DownloadEvents{
		Ready: func(id string, size int64, mimeType string) {
			a.record(logging.LevelInfo, logging.EventSFTPDownloadStart, func(r *logging.Record) {
				r.Subsystem = "sftp"
				r.Details = map[string]any{"path": p.Path, "size": size}
			})
			a.emit(outSFTPDownReady, map[string]any{
				"transferId": id,
				"size":       size,
				"mimeType":   mimeType,
			})
		},
		Chunk: func(id string, seq int, data []byte) error {
			a.bytesOut.Add(int64(len(data)))
			a.emit(outSFTPDownChunk, map[string]any{
				"transferId": id, "seq": seq, "data": data,
			})
			return a.ctx.Err()
		},
		Complete: func(id string, bytes int64) {
			a.record(logging.LevelInfo, logging.EventSFTPDownloadDone, func(r *logging.Record) {
				r.Subsystem = "sftp"
				r.BytesOut = bytes
			})
			a.emit(outSFTPComplete, map[string]any{"transferId": id, "bytes": bytes})
		},
		Error: func(id string, err error) {
			a.emitSFTPError(id, err)
		},
	}

	if _, err := mgr.StartDownload(a.ctx, p.Path, a.gate, events); err != nil {
		a.emitSFTPError("", err)
	}
}

func (a *Adapter) emitSFTPError(transferID string, err error) {
	a.record(logging.LevelWarn, logging.EventSFTPError, func(r *logging.Record) {
		r.Subsystem = "sftp"
		r.ErrorCode = gwerrors.CodeOf(err)
		r.Reason = err.Error()
	})
	payload := map[string]any{"message": err.Error(), "code": gwerrors.CodeOf(err)}
	if transferID != "" {
		payload["transferId"] = transferID
	}
	a.emit(outSFTPError, payload)
}
