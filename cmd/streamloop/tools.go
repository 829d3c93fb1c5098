package main

import (
	"streamloop/pkg/tool"
)

type clockArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA zone name such as Europe/Paris"`
}

type echoArgs struct {
	Input string `json:"input" jsonschema:"description=Text to echo back"`
}

// builtinCatalog lists the tools offered to the model. The loop never runs
// them; the CLI only validates and prints the requests.
func builtinCatalog() (*tool.Catalog, error) {
	return tool.NewCatalog(
		tool.Define("clock", "Returns the current time", clockArgs{}),
		tool.Define("echo", "Echo back the provided input", echoArgs{}),
	)
}
