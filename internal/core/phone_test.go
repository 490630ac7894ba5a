package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+8613812345678", NormalizePhone(" 138 1234 5678 ", "CN"))
	assert.Equal(t, "+8613812345678", NormalizePhone("+86 138-1234-5678", "CN"))
	assert.Equal(t, "分机 8021", NormalizePhone("分机 8021", "CN"))
	assert.Equal(t, "", NormalizePhone("  ", "CN"))
}

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+8613812345678", "+86138****5678"},
		{"13812345678", "138****5678"},
		{"12345", "*****"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskPhone(tt.in), tt.in)
	}
}

func TestMaskIDCard(t *testing.T) {
	assert.Equal(t, "110101********1234", MaskIDCard("110101199003071234"))
	assert.Equal(t, "****", MaskIDCard("1234"))
	assert.Equal(t, "", MaskIDCard(""))
}
