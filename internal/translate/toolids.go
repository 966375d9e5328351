package translate

import (
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// backfillToolCallIDs pairs functionCall and functionResponse parts that
// arrived without identifiers. Responses are matched to calls by declaration
// name in first-in-first-out order per name, so repeated calls to the same
// tool pair up correctly.
func backfillToolCallIDs(contents []byte) []byte {
	parsed := gjson.ParseBytes(contents)
	if !parsed.IsArray() {
		return contents
	}

	queues := map[string][]string{}
	serial := 0

	for i, content := range parsed.Array() {
		for j, part := range content.Get("parts").Array() {
			call := part.Get("functionCall")
			if !call.Exists() {
				continue
			}
			name := call.Get("name").String()
			id := call.Get("id").String()
			if id == "" {
				serial++
				id = fmt.Sprintf("call-%d-%s", serial, name)
				contents, _ = sjson.SetBytes(contents, partPath(i, j)+".functionCall.id", id)
			}
			queues[name] = append(queues[name], id)
		}
	}

	parsed = gjson.ParseBytes(contents)
	for i, content := range parsed.Array() {
		for j, part := range content.Get("parts").Array() {
			resp := part.Get("functionResponse")
			if !resp.Exists() || resp.Get("id").String() != "" {
				continue
			}
			name := resp.Get("name").String()
			queue := queues[name]
			if len(queue) == 0 {
				continue
			}
			contents, _ = sjson.SetBytes(contents, partPath(i, j)+".functionResponse.id", queue[0])
			queues[name] = queue[1:]
		}
	}

	return contents
}

func partPath(content, part int) string {
	return strconv.Itoa(content) + ".parts." + strconv.Itoa(part)
}
