package pipeline

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

func fingerprint(transcript, model string) string {
	d := xxhash.New()
	_, _ = d.WriteString(model)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(transcript)
	return strconv.FormatUint(d.Sum64(), 16)
}
