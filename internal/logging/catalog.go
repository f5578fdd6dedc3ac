package logging

// Event names form a closed catalog; records with an unknown event are
// rejected before any other pipeline stage.
const (
	EventSessionStart      = "session_start"
	EventSessionEnd        = "session_end"
	EventAuthAttempt       = "auth_attempt"
	EventAuthSuccess       = "auth_success"
	EventAuthFailure       = "auth_failure"
	EventSSHConnect        = "ssh_connect"
	EventSSHDisconnect     = "ssh_disconnect"
	EventSSHError          = "ssh_error"
	EventShellOpen         = "shell_open"
	EventShellClose        = "shell_close"
	EventExecStart         = "exec_start"
	EventExecExit          = "exec_exit"
	EventResize            = "resize"
	EventSFTPList          = "sftp_list"
	EventSFTPStat          = "sftp_stat"
	EventSFTPMkdir         = "sftp_mkdir"
	EventSFTPDelete        = "sftp_delete"
	EventSFTPUploadStart   = "sftp_upload_start"
	EventSFTPUploadDone    = "sftp_upload_complete"
	EventSFTPDownloadStart = "sftp_download_start"
	EventSFTPDownloadDone  = "sftp_download_complete"
	EventSFTPError         = "sftp_error"
	EventHostKeyUnknown    = "hostkey_unknown"
	EventHostKeyMismatch   = "hostkey_mismatch"
	EventHostKeyAccepted   = "hostkey_accepted"
	EventHostKeyRejected   = "hostkey_rejected"
	EventAlgoMismatch      = "algorithm_mismatch"
	EventPromptTimeout     = "prompt_timeout"
	EventCrashRecovery     = "crash_recovery"
	EventConfigLoaded      = "config_loaded"
	EventReplayCredentials = "replay_credentials"
	EventIdleTimeout       = "idle_timeout"
)

var eventCatalog = map[string]bool{
	EventSessionStart:      true,
	EventSessionEnd:        true,
	EventAuthAttempt:       true,
	EventAuthSuccess:       true,
	EventAuthFailure:       true,
	EventSSHConnect:        true,
	EventSSHDisconnect:     true,
	EventSSHError:          true,
	EventShellOpen:         true,
	EventShellClose:        true,
	EventExecStart:         true,
	EventExecExit:          true,
	EventResize:            true,
	EventSFTPList:          true,
	EventSFTPStat:          true,
	EventSFTPMkdir:         true,
	EventSFTPDelete:        true,
	EventSFTPUploadStart:   true,
	EventSFTPUploadDone:    true,
	EventSFTPDownloadStart: true,
	EventSFTPDownloadDone:  true,
	EventSFTPError:         true,
	EventHostKeyUnknown:    true,
	EventHostKeyMismatch:   true,
	EventHostKeyAccepted:   true,
	EventHostKeyRejected:   true,
	EventAlgoMismatch:      true,
	EventPromptTimeout:     true,
	EventCrashRecovery:     true,
	EventConfigLoaded:      true,
	EventReplayCredentials: true,
	EventIdleTimeout:       true,
}

// KnownEvent reports whether name is in the catalog.
func KnownEvent(name string) bool { return eventCatalog[name] }
