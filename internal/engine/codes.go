package engine

import "fmt"

// Status is the update engine's operation state. The bridge tracks it with a
// -1 sentinel until the first callback arrives.
type Status int32

const (
	StatusUnknown               Status = -1
	StatusIdle                  Status = 0
	StatusCheckingForUpdate     Status = 1
	StatusUpdateAvailable       Status = 2
	StatusDownloading           Status = 3
	StatusVerifying             Status = 4
	StatusFinalizing            Status = 5
	StatusUpdatedNeedReboot     Status = 6
	StatusReportingErrorEvent   Status = 7
	StatusAttemptingRollback    Status = 8
	StatusDisabled              Status = 9
	StatusCleanupPreviousUpdate Status = 10
)

var statusNames = map[Status]string{
	StatusUnknown:               "UNKNOWN",
	StatusIdle:                  "IDLE",
	StatusCheckingForUpdate:     "CHECKING_FOR_UPDATE",
	StatusUpdateAvailable:       "UPDATE_AVAILABLE",
	StatusDownloading:           "DOWNLOADING",
	StatusVerifying:             "VERIFYING",
	StatusFinalizing:            "FINALIZING",
	StatusUpdatedNeedReboot:     "UPDATED_NEED_REBOOT",
	StatusReportingErrorEvent:   "REPORTING_ERROR_EVENT",
	StatusAttemptingRollback:    "ATTEMPTING_ROLLBACK",
	StatusDisabled:              "DISABLED",
	StatusCleanupPreviousUpdate: "CLEANUP_PREVIOUS_UPDATE",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_%d", int32(s))
}

// ErrorCode is the engine's terminal payload-application result. -1 is the
// not-yet-reported sentinel.
type ErrorCode int32

const (
	ErrorUnknown             ErrorCode = -1
	ErrorSuccess             ErrorCode = 0
	ErrorGeneric             ErrorCode = 1
	ErrorOmahaRequest        ErrorCode = 2
	ErrorOmahaResponse       ErrorCode = 3
	ErrorFilesystemCopier    ErrorCode = 4
	ErrorPostinstallRunner   ErrorCode = 5
	ErrorPayloadMismatch     ErrorCode = 6
	ErrorInstallDeviceOpen   ErrorCode = 7
	ErrorKernelDeviceOpen    ErrorCode = 8
	ErrorDownloadTransfer    ErrorCode = 9
	ErrorPayloadHashMismatch ErrorCode = 10
	ErrorPayloadSizeMismatch ErrorCode = 11
	ErrorSignatureVerify     ErrorCode = 12
	ErrorNewRootfsVerify     ErrorCode = 15
	ErrorSignedDeltaPayload  ErrorCode = 16
	ErrorDownloadWriteError  ErrorCode = 17
	ErrorMetadataSizeExceeds ErrorCode = 32
	ErrorUserCanceled        ErrorCode = 48
	ErrorUpdatedButNotActive ErrorCode = 52
	ErrorNotEnoughSpace      ErrorCode = 60
	ErrorDeviceCorrupted     ErrorCode = 61
)

var errorNames = map[ErrorCode]string{
	ErrorUnknown:             "UNKNOWN",
	ErrorSuccess:             "SUCCESS",
	ErrorGeneric:             "ERROR",
	ErrorOmahaRequest:        "OMAHA_REQUEST_ERROR",
	ErrorOmahaResponse:       "OMAHA_RESPONSE_HANDLER_ERROR",
	ErrorFilesystemCopier:    "FILESYSTEM_COPIER_ERROR",
	ErrorPostinstallRunner:   "POST_INSTALL_RUNNER_ERROR",
	ErrorPayloadMismatch:     "PAYLOAD_MISMATCHED_TYPE_ERROR",
	ErrorInstallDeviceOpen:   "INSTALL_DEVICE_OPEN_ERROR",
	ErrorKernelDeviceOpen:    "KERNEL_DEVICE_OPEN_ERROR",
	ErrorDownloadTransfer:    "DOWNLOAD_TRANSFER_ERROR",
	ErrorPayloadHashMismatch: "PAYLOAD_HASH_MISMATCH_ERROR",
	ErrorPayloadSizeMismatch: "PAYLOAD_SIZE_MISMATCH_ERROR",
	ErrorSignatureVerify:     "DOWNLOAD_PAYLOAD_PUB_KEY_VERIFICATION_ERROR",
	ErrorNewRootfsVerify:     "NEW_ROOTFS_VERIFICATION_ERROR",
	ErrorSignedDeltaPayload:  "SIGNED_DELTA_PAYLOAD_EXPECTED_ERROR",
	ErrorDownloadWriteError:  "DOWNLOAD_WRITE_ERROR",
	ErrorMetadataSizeExceeds: "DOWNLOAD_INVALID_METADATA_SIZE",
	ErrorUserCanceled:        "USER_CANCELED",
	ErrorUpdatedButNotActive: "UPDATED_BUT_NOT_ACTIVE",
	ErrorNotEnoughSpace:      "NOT_ENOUGH_SPACE",
	ErrorDeviceCorrupted:     "DEVICE_CORRUPTED",
}

func (c ErrorCode) String() string {
	if name, ok := errorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_CODE_%d", int32(c))
}

// Phase is the coarse progress phase surfaced to the caller.
type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseVerify   Phase = "verify"
	PhaseFinalize Phase = "finalize"
)

// phaseOf maps an engine status to a progress phase, or "" if the status has
// no user-visible phase.
func phaseOf(s Status) Phase {
	switch s {
	case StatusDownloading:
		return PhaseDownload
	case StatusVerifying:
		return PhaseVerify
	case StatusFinalizing:
		return PhaseFinalize
	default:
		return ""
	}
}
