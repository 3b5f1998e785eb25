package domain

import "time"

// JobType enumerates supported generation job categories.
type JobType string

const (
	JobTypeImage JobType = "image"
	JobTypeVideo JobType = "video"
)

// JobStatus enumerates job lifecycle states. Transitions only move forward:
// pending -> processing -> completed|failed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status permits no further mutation.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobStage identifies the pipeline step a processing job is currently in.
// It is empty unless status is processing.
type JobStage string

const (
	StageFetchingWeather JobStage = "fetching_weather"
	StageGeneratingImage JobStage = "generating_image"
	StageGeneratingVideo JobStage = "generating_video"
	StageProcessingVideo JobStage = "processing_video"
)

// Job encapsulates one tracked generation request.
type Job struct {
	ID           string
	OwnerKeyHash string
	Status       JobStatus
	Stage        JobStage
	Type         JobType
	City         string
	Country      string
	Weather      *WeatherSnapshot
	ImageURL     string
	VideoURL     string
	ErrorMessage string
	// FailedStage records where a failed job stopped, for diagnostics.
	// Stage itself is cleared on any terminal transition.
	FailedStage JobStage
	Cached      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Terminal reports whether the job reached a terminal status.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}

// ArtifactURL returns the URL of the primary artifact for the job type.
func (j *Job) ArtifactURL() string {
	if j.Type == JobTypeVideo && j.VideoURL != "" {
		return j.VideoURL
	}
	return j.ImageURL
}

// StageProgress describes how far through the pipeline a processing job is,
// suitable for polling responses.
type StageProgress struct {
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
	Message     string `json:"message"`
}

// ProgressFor maps a stage onto step counters for the given job type.
func ProgressFor(stage JobStage, jobType JobType) StageProgress {
	total := 2
	if jobType == JobTypeVideo {
		total = 4
	}
	switch stage {
	case StageFetchingWeather:
		return StageProgress{CurrentStep: 1, TotalSteps: total, Message: "fetching current weather"}
	case StageGeneratingImage:
		return StageProgress{CurrentStep: 2, TotalSteps: total, Message: "generating scene image"}
	case StageGeneratingVideo:
		return StageProgress{CurrentStep: 3, TotalSteps: total, Message: "generating animation"}
	case StageProcessingVideo:
		return StageProgress{CurrentStep: 4, TotalSteps: total, Message: "post-processing animation"}
	default:
		return StageProgress{CurrentStep: 0, TotalSteps: total, Message: "queued"}
	}
}
