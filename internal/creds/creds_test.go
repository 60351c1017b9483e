package creds

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCgroupUnitPattern(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "plain service unit",
			line: "1:name=systemd:/system.slice/myapp.service",
			want: "myapp",
		},
		{
			name: "jvm-prefixed service unit",
			line: "1:name=systemd:/system.slice/jvm:myapp.service",
			want: "myapp",
		},
		{
			name: "no match",
			line: "1:name=systemd:/user.slice/user-1000.slice",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := cgroupUnitPattern.FindStringSubmatch(tt.line)
			if tt.want == "" {
				assert.Nil(t, m)
				return
			}
			require.NotNil(t, m)
			assert.Equal(t, tt.want, m[1])
		})
	}
}

func TestCommForPID_Self(t *testing.T) {
	name := CommForPID(int32(os.Getpid()))
	assert.NotEmpty(t, name)
}

func TestCommForPID_Invalid(t *testing.T) {
	assert.Equal(t, "", CommForPID(0))
	assert.Equal(t, "", CommForPID(-1))
}

func TestUnitForPID_Invalid(t *testing.T) {
	assert.Equal(t, "", UnitForPID(0))
}
