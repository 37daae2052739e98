package bridge

// ServiceName is the fully-qualified name of the edit service.
const ServiceName = "darkroom.v1.EditService"

// Procedure paths served by Server.
const (
	BeginProcedure  = "/" + ServiceName + "/Begin"
	FinishProcedure = "/" + ServiceName + "/Finish"
	CancelProcedure = "/" + ServiceName + "/Cancel"
	StatusProcedure = "/" + ServiceName + "/Status"
	ForgetProcedure = "/" + ServiceName + "/Forget"
)

// Message field names.
const (
	fieldHandle     = "handle"
	fieldSourcePath = "source_path"
	fieldOutputPath = "output_path"
	fieldToken      = "token"
	fieldAdjustment = "adjustment"
	fieldArtifact   = "artifact_path"
	fieldState      = "state"
	fieldStagingDir = "staging_dir"
	fieldPreview    = "preview"
	fieldRecognized = "prior_recognized"
	fieldExitCode   = "exit_code"
	fieldError      = "error"
)
