// Package upload holds the upload session state machine.
//
// Stages run strictly in declaration order. A deduplication hit jumps from
// StageDeduplication straight to StageDatabase; upload retries loop on
// StageUploadRetry. Every non-terminal stage may move to StageFailed.
package upload

type Stage uint8

const (
	StageValidation Stage = iota
	StageHEICConversion
	StageCompression
	StageHash
	StageDeduplication
	StageQuota
	StageUpload
	StageUploadRetry
	StageDatabase
	StageComplete
	StageFailed
)

var stageNames = [...]string{
	StageValidation:     "validation",
	StageHEICConversion: "heic_conversion",
	StageCompression:    "compression",
	StageHash:           "hash",
	StageDeduplication:  "deduplication",
	StageQuota:          "quota",
	StageUpload:         "upload",
	StageUploadRetry:    "upload_retry",
	StageDatabase:       "database",
	StageComplete:       "complete",
	StageFailed:         "failed",
}

// percent reported when a stage is entered
var stagePercent = [...]int{
	StageValidation:     5,
	StageHEICConversion: 10,
	StageCompression:    20,
	StageHash:           40,
	StageDeduplication:  50,
	StageQuota:          60,
	StageUpload:         70,
	StageUploadRetry:    70,
	StageDatabase:       85,
	StageComplete:       100,
	StageFailed:         100,
}

var validTransitions = map[Stage]map[Stage]bool{
	StageValidation:     {StageHEICConversion: true},
	StageHEICConversion: {StageCompression: true},
	StageCompression:    {StageHash: true},
	StageHash:           {StageDeduplication: true},
	StageDeduplication:  {StageQuota: true, StageDatabase: true},
	StageQuota:          {StageUpload: true},
	StageUpload:         {StageUploadRetry: true, StageDatabase: true},
	StageUploadRetry:    {StageUploadRetry: true, StageDatabase: true},
	StageDatabase:       {StageComplete: true},
	StageComplete:       {},
	StageFailed:         {},
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Percent for upload_retry grows by 5 per attempt and stays below the database stage.
func (s Stage) Percent(attempt int) int {
	if int(s) >= len(stagePercent) {
		return 0
	}
	if s == StageUploadRetry {
		p := stagePercent[s] + 5*attempt
		if p >= stagePercent[StageDatabase] {
			p = stagePercent[StageDatabase] - 1
		}
		return p
	}
	return stagePercent[s]
}

func (s Stage) Terminal() bool { return s == StageComplete || s == StageFailed }

// Cancellable reports whether a session in this stage may still be cancelled.
func (s Stage) Cancellable() bool { return s < StageDatabase }

func CanTransition(from, to Stage) bool {
	if to == StageFailed {
		return !from.Terminal()
	}
	return validTransitions[from][to]
}
