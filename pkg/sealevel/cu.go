package sealevel

const (
	CUSystemProgramDefaultComputeUnits = 150
	CUVoteProgramDefaultComputeUnits   = 2100
	CUStakeProgramDefaultComputeUnits  = 750
)
