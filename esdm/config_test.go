package esdm

import "testing"

func TestConfigRateClamping(t *testing.T) {
	c := NewConfig(nil)
	c.SetCPUEntropyRate(SecurityStrengthBits + 1000)
	if got := c.CPUEntropyRate(); got != SecurityStrengthBits {
		t.Fatalf("CPUEntropyRate = %d, want clamped to %d", got, SecurityStrengthBits)
	}

	c.SetJitterEntropyRate(10)
	if got := c.JitterEntropyRate(); got != 10 {
		t.Fatalf("JitterEntropyRate = %d, want 10", got)
	}
}

func TestConfigSetRateFiresListener(t *testing.T) {
	c := NewConfig(nil)
	fired := false
	c.OnAddEntropy(func() { fired = true })
	c.SetKernelEntropyRate(5)
	if !fired {
		t.Fatal("expected OnAddEntropy listener to fire on rate change")
	}
}

func TestConfigOnlineNodesIntersectsMaxNodes(t *testing.T) {
	c := NewConfig(nil)
	c.SetNodeLocator(fakeNodeLocator{online: 8, curr: 5})
	c.SetMaxNodes(4)

	if got := c.OnlineNodes(); got != 4 {
		t.Fatalf("OnlineNodes = %d, want 4 (intersected with MaxNodes)", got)
	}
	if got := c.CurrNode(); got != 1 {
		t.Fatalf("CurrNode = %d, want 5%%4=1", got)
	}
}

func TestConfigForceFIPSOverridesEnvironment(t *testing.T) {
	c := NewConfig(nil)
	c.SetForceFIPS(ForceFIPSEnabled)
	if !c.FIPSEnabled() {
		t.Fatal("expected FIPSEnabled true when ForceFIPSEnabled is set")
	}

	c.SetForceFIPS(ForceFIPSDisabled)
	if c.FIPSEnabled() {
		t.Fatal("expected FIPSEnabled false when ForceFIPSDisabled is set")
	}
}

type fakeNodeLocator struct {
	online uint32
	curr   uint32
}

func (f fakeNodeLocator) OnlineNodes() uint32 { return f.online }
func (f fakeNodeLocator) CurrNode() uint32    { return f.curr }
