package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"testfleet/cmd"
)

func TestVersionDefault(t *testing.T) {
	assert.Equal(t, "dev", version)
}

func TestSetVersionReachesCommands(t *testing.T) {
	original := cmd.GetVersion()
	defer cmd.SetVersion(original)

	for _, v := range []string{"1.0.0", "v2.0.0-rc1", version} {
		cmd.SetVersion(v)
		assert.Equal(t, v, cmd.GetVersion())
	}
}
