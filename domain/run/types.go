package run

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"gommd/domain/core"
)

// RunFingerprint captures every parameter that determines a test's output.
// Two runs with the same fingerprint over the same data must agree bit for bit.
type RunFingerprint struct {
	Statistic         string    `json:"statistic"`
	NullMethod        string    `json:"null_method"`
	Kernels           []string  `json:"kernels"`
	Blocksize         int       `json:"blocksize"`
	NumBlocksPerBurst int       `json:"num_blocks_per_burst"`
	NumNullSamples    int       `json:"num_null_samples"`
	Seed              int64     `json:"seed"`
	Fingerprint       core.Hash `json:"fingerprint"` // Hash of all above
}

// NewRunFingerprint creates a fingerprint from determinism parameters
func NewRunFingerprint(statistic, nullMethod string, kernels []string,
	blocksize, numBlocksPerBurst, numNullSamples int, seed int64) RunFingerprint {

	fp := RunFingerprint{
		Statistic:         statistic,
		NullMethod:        nullMethod,
		Kernels:           append([]string(nil), kernels...),
		Blocksize:         blocksize,
		NumBlocksPerBurst: numBlocksPerBurst,
		NumNullSamples:    numNullSamples,
		Seed:              seed,
	}
	fp.Fingerprint = fp.compute()
	return fp
}

func (f RunFingerprint) compute() core.Hash {
	data := fmt.Sprintf("statistic:%s|null:%s|kernels:%s|blocksize:%d|burst:%d|null_samples:%d|seed:%d",
		f.Statistic, f.NullMethod, strings.Join(f.Kernels, ","), f.Blocksize, f.NumBlocksPerBurst,
		f.NumNullSamples, f.Seed)
	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}
