package protocol

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const cursorDef = `"cursor": {
	"type": "object",
	"required": ["index", "length"],
	"properties": {
		"index": {"type": "integer", "minimum": 0},
		"length": {"type": "integer", "minimum": 0}
	}
}`

const nullableCursorDef = `"nullableCursor": {
	"oneOf": [{"type": "null"}, {"$ref": "#/$defs/cursor"}]
}`

const participantDef = `"participant": {
	"type": "object",
	"required": ["connectionId", "userId", "role"],
	"properties": {
		"connectionId": {"type": "string", "minLength": 1},
		"userId": {"type": "string", "minLength": 1},
		"displayName": {"type": "string"},
		"role": {"enum": ["owner", "editor", "viewer"]},
		"color": {"type": "string"},
		"cursor": {"$ref": "#/$defs/nullableCursor"}
	}
}`

func withDefs(body string) string {
	return `{"$defs": {` + cursorDef + `,` + nullableCursorDef + `,` + participantDef + `},` + body + `}`
}

var clientSchemas = map[Kind]string{
	KindJoin: withDefs(`
		"type": "object",
		"required": ["documentId"],
		"properties": {
			"documentId": {"type": "string", "minLength": 1, "maxLength": 256},
			"displayName": {"type": "string", "maxLength": 128}
		}`),
	KindChange: withDefs(`
		"type": "object",
		"required": ["content"],
		"properties": {
			"content": {"type": "string"},
			"delta": {"type": ["object", "array", "null"]}
		}`),
	KindCursor: withDefs(`
		"type": "object",
		"required": ["cursor"],
		"properties": {
			"cursor": {"$ref": "#/$defs/nullableCursor"}
		}`),
	KindLeave: withDefs(`"type": "object"`),
}

var serverSchemas = map[Kind]string{
	KindJoined: withDefs(`
		"type": "object",
		"required": ["self", "participants", "content"],
		"properties": {
			"self": {"$ref": "#/$defs/participant"},
			"participants": {"type": "array", "items": {"$ref": "#/$defs/participant"}},
			"content": {"type": "string"}
		}`),
	KindPresence: withDefs(`
		"type": "object",
		"required": ["participants"],
		"properties": {
			"participants": {"type": "array", "items": {"$ref": "#/$defs/participant"}}
		}`),
	KindParticipantJoined: withDefs(`
		"type": "object",
		"required": ["participant"],
		"properties": {"participant": {"$ref": "#/$defs/participant"}}`),
	KindParticipantLeft: withDefs(`
		"type": "object",
		"required": ["participant"],
		"properties": {"participant": {"$ref": "#/$defs/participant"}}`),
	KindChange: withDefs(`
		"type": "object",
		"required": ["content", "sourceUserId"],
		"properties": {
			"content": {"type": "string"},
			"delta": {"type": ["object", "array", "null"]},
			"sourceUserId": {"type": "string", "minLength": 1},
			"sourceConnectionId": {"type": "string"}
		}`),
	KindCursor: withDefs(`
		"type": "object",
		"required": ["userId", "cursor"],
		"properties": {
			"userId": {"type": "string", "minLength": 1},
			"connectionId": {"type": "string"},
			"cursor": {"$ref": "#/$defs/nullableCursor"}
		}`),
	KindPermissionDenied: withDefs(`
		"type": "object",
		"required": ["action"],
		"properties": {"action": {"type": "string", "minLength": 1}}`),
	KindSaved: withDefs(`
		"type": "object",
		"properties": {"changeId": {"type": "string"}}`),
	KindSaveFailed: withDefs(`
		"type": "object",
		"properties": {
			"changeId": {"type": "string"},
			"message": {"type": "string"}
		}`),
}

var (
	compileOnce sync.Once
	compiled    map[Direction]map[Kind]*jsonschema.Schema
)

func schemaFor(dir Direction, kind Kind) (*jsonschema.Schema, bool) {
	compileOnce.Do(func() {
		compiled = map[Direction]map[Kind]*jsonschema.Schema{
			ClientToServer: mustCompileAll("client", clientSchemas),
			ServerToClient: mustCompileAll("server", serverSchemas),
		}
	})
	sch, ok := compiled[dir][kind]
	return sch, ok
}

func mustCompileAll(prefix string, sources map[Kind]string) map[Kind]*jsonschema.Schema {
	c := jsonschema.NewCompiler()
	out := make(map[Kind]*jsonschema.Schema, len(sources))
	for kind, src := range sources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			panic(fmt.Sprintf("protocol: parse %s/%s schema: %v", prefix, kind, err))
		}
		name := prefix + "/" + string(kind) + ".json"
		if err := c.AddResource(name, doc); err != nil {
			panic(fmt.Sprintf("protocol: add %s schema: %v", name, err))
		}
		sch, err := c.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("protocol: compile %s schema: %v", name, err))
		}
		out[kind] = sch
	}
	return out
}

func validate(sch *jsonschema.Schema, data []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return sch.Validate(inst)
}
