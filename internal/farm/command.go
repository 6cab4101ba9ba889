package farm

import (
	"strconv"
	"strings"
)

// Stage names one sharded step of the farm.
type Stage string

const (
	StageDirectIllum   Stage = "dillum"
	StagePhotonCast    Stage = "pcast"
	StageRadianceEst   Stage = "radest"
	StageExtendedIllum Stage = "extillum"
	StageFinalGather   Stage = "fgather"
)

// DefaultStages is the fixed farm order. Each stage consumes the merge output of the previous one.
var DefaultStages = []Stage{
	StageDirectIllum,
	StagePhotonCast,
	StageRadianceEst,
	StageExtendedIllum,
	StageFinalGather,
}

func (s Stage) String() string { return string(s) }

// Command is one invocation of the worker tool: a verb followed by positional arguments.
// Build commands only through the constructors below.
type Command struct {
	Verb string
	Args []string
}

// Argv returns the arguments passed after the tool name.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Verb)
	return append(argv, c.Args...)
}

func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

const (
	VerbDataSync         = "faux_data_sync"
	VerbFarmBegin        = "faux_farm_begin"
	VerbFarmFinish       = "faux_farm_finish"
	VerbLinearTextures   = "faux-build-linear-textures-with-intensity-from-quadratic"
	VerbCompressBitmaps  = "faux-compress-scenario-bitmaps-dxt5"
	VerbCompressionMerge = "faux-farm-compression-merge"
)

func DataSyncCommand(scenario, target string) Command {
	return Command{Verb: VerbDataSync, Args: []string{scenario, target}}
}

func FarmBeginCommand(scenario, target, group string, quality Quality, blobID string) Command {
	return Command{Verb: VerbFarmBegin, Args: []string{scenario, target, group, string(quality), blobID}}
}

// ShardCommand runs one shard of stage against blobDir.
func ShardCommand(stage Stage, blobDir string, shard, shardCount int) Command {
	return Command{
		Verb: "faux_farm_" + string(stage),
		Args: []string{blobDir, strconv.Itoa(shard), strconv.Itoa(shardCount)},
	}
}

// MergeCommand folds the shardCount partial results of stage into one.
func MergeCommand(stage Stage, blobDir string, shardCount int) Command {
	return Command{
		Verb: "faux_farm_" + string(stage) + "_merge",
		Args: []string{blobDir, strconv.Itoa(shardCount)},
	}
}

func FarmFinishCommand(blobDir string) Command {
	return Command{Verb: VerbFarmFinish, Args: []string{blobDir}}
}

func LinearTexturesCommand(scenario, target string) Command {
	return Command{Verb: VerbLinearTextures, Args: []string{scenario, target}}
}

func CompressBitmapsCommand(scenario, target string) Command {
	return Command{Verb: VerbCompressBitmaps, Args: []string{scenario, target}}
}

func CompressionMergeCommand(scenario, target string) Command {
	return Command{Verb: VerbCompressionMerge, Args: []string{scenario, target}}
}

// PostProcessCommands returns the tail run after faux_farm_finish, in order.
func PostProcessCommands(scenario, target string) []Command {
	return []Command{
		LinearTexturesCommand(scenario, target),
		CompressBitmapsCommand(scenario, target),
		CompressionMergeCommand(scenario, target),
	}
}
