package sdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeH264FormatParameters(t *testing.T) {
	fmtp, err := DecodeH264FormatParameters(
		"level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f;sprop-parameter-sets=Z0IAH5WoFAFuQA==,aM48gA==")
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, fmtp.LevelAsymmetryAllowed)
	assert.Equal(t, 1, fmtp.PacketizationMode)
	assert.Equal(t, 0x42001f, fmtp.ProfileLevelID)
	assert.Len(t, fmtp.SpropParameterSets, 2)
}

func TestDecodeH264FormatParametersEmpty(t *testing.T) {
	fmtp, err := DecodeH264FormatParameters("")
	if err != nil {
		t.Fatal(err)
	}
	assert.Empty(t, fmtp.SpropParameterSets)
}

func TestDecodeH264FormatParametersMalformed(t *testing.T) {
	_, err := DecodeH264FormatParameters("not-a-valid-fmtp-string")
	assert.Error(t, err)
}
