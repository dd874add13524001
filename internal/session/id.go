package session

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const idSuffixLen = 9

// NewCallID returns an id of the form phn_<unix millis>_<9 base-36 chars>.
func NewCallID() string {
	u := uuid.New()
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	if len(suffix) < idSuffixLen {
		suffix = strings.Repeat("0", idSuffixLen-len(suffix)) + suffix
	}
	return "phn_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + suffix[len(suffix)-idSuffixLen:]
}
