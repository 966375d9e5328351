package translate

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var (
	randSource   = rand.New(rand.NewSource(int64(uuid.New().ID())))
	randSourceMu sync.Mutex
)

var (
	projectAdjectives = []string{"useful", "bright", "swift", "calm", "bold"}
	projectNouns      = []string{"fuze", "wave", "spark", "flow", "core"}
)

// GenerateProjectID produces a readable adjective-noun-suffix identifier for
// requests that arrive without a project.
func GenerateProjectID() string {
	randSourceMu.Lock()
	adj := projectAdjectives[randSource.Intn(len(projectAdjectives))]
	noun := projectNouns[randSource.Intn(len(projectNouns))]
	randSourceMu.Unlock()
	suffix := strings.ToLower(uuid.NewString())[:5]
	return adj + "-" + noun + "-" + suffix
}

func generateRequestID() string {
	return "agent-" + uuid.NewString()
}

// stableSessionID derives a numeric session id from the first user turn so
// repeated calls within one conversation land on the same upstream session.
func stableSessionID(contents gjson.Result) string {
	if contents.IsArray() {
		for _, content := range contents.Array() {
			if content.Get("role").String() != "user" {
				continue
			}
			text := content.Get("parts.0.text").String()
			if text == "" {
				continue
			}
			h := sha256.Sum256([]byte(text))
			n := int64(binary.BigEndian.Uint64(h[:8])) & 0x7FFFFFFFFFFFFFFF
			return "-" + strconv.FormatInt(n, 10)
		}
	}
	return "-" + strconv.FormatUint(uint64(uuid.New().ID()), 10)
}
