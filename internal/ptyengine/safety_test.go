package ptyengine

import (
	"testing"

	"github.com/on-the-go/daemon/internal/apierr"
	"github.com/stretchr/testify/assert"
)

func TestSafetyPolicyAllowsAllowlistedCommand(t *testing.T) {
	p := NewSafetyPolicy(false)
	assert.NoError(t, p.Check("git status"))
}

func TestSafetyPolicyRejectsUnlistedCommand(t *testing.T) {
	p := NewSafetyPolicy(false)
	err := p.Check("sudo reboot")
	assert.Equal(t, apierr.Refused, apierr.KindOf(err))
}

func TestSafetyPolicyRejectsRmRfRoot(t *testing.T) {
	p := NewSafetyPolicy(false)
	err := p.Check("rm -rf /")
	assert.Equal(t, apierr.Refused, apierr.KindOf(err))
}

func TestSafetyPolicyRejectsDdToDevSd(t *testing.T) {
	p := NewSafetyPolicy(false)
	err := p.Check("dd if=/dev/zero of=/dev/sda")
	assert.Equal(t, apierr.Refused, apierr.KindOf(err))
}

func TestSafetyPolicyRejectsChmod777(t *testing.T) {
	p := NewSafetyPolicy(false)
	err := p.Check("chmod -777 /etc/passwd")
	assert.Equal(t, apierr.Refused, apierr.KindOf(err))
}

func TestSafetyPolicyAllowUnsafeBypassesEverything(t *testing.T) {
	p := NewSafetyPolicy(true)
	assert.NoError(t, p.Check("rm -rf /"))
}
