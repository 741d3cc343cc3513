package model

import (
	"fmt"
	"strings"
)

// MachineKind discriminates physical machines from hypervisor guests.
type MachineKind string

const (
	MachinePhysical MachineKind = "physical"
	MachineHyperV   MachineKind = "hyperv"
)

// HypervSpec holds the fields only virtual machines have.
type HypervSpec struct {
	// HostID is the catalog id of the physical machine hosting the guest.
	HostID string `yaml:"hostId" json:"hostId"`
	// Image identifies the guest to the hypervisor.
	Image string `yaml:"image" json:"image"`
	// Snapshot is restored after every test.
	Snapshot string `yaml:"snapshot" json:"snapshot"`
}

// MachineDescription is a candidate execution environment.
type MachineDescription struct {
	ID              string          `yaml:"id" json:"id"`
	Kind            MachineKind     `yaml:"kind" json:"kind"`
	NetworkName     string          `yaml:"networkName" json:"networkName"`
	MACAddress      string          `yaml:"macAddress,omitempty" json:"macAddress,omitempty"`
	CanWakeRemotely bool            `yaml:"canWakeRemotely,omitempty" json:"canWakeRemotely,omitempty"`
	OperatingSystem OperatingSystem `yaml:"operatingSystem" json:"operatingSystem"`
	Applications    []Application   `yaml:"applications,omitempty" json:"applications,omitempty"`
	Hyperv          *HypervSpec     `yaml:"hyperv,omitempty" json:"hyperv,omitempty"`
	IsActive        bool            `yaml:"-" json:"isActive"`
}

// Validate checks the discriminated fields.
func (m MachineDescription) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("machine without id")
	}
	if m.NetworkName == "" {
		return fmt.Errorf("machine %s has no network name", m.ID)
	}
	switch m.Kind {
	case MachinePhysical:
		if m.Hyperv != nil {
			return fmt.Errorf("physical machine %s carries hyperv settings", m.ID)
		}
	case MachineHyperV:
		if m.Hyperv == nil || m.Hyperv.HostID == "" || m.Hyperv.Image == "" {
			return fmt.Errorf("hyperv machine %s needs host id and image", m.ID)
		}
	default:
		return fmt.Errorf("machine %s has unknown kind %q", m.ID, m.Kind)
	}
	return nil
}

// Satisfies reports whether the machine meets the environment requirement:
// same operating system and every required application at the same version.
func (m MachineDescription) Satisfies(env TestEnvironment) bool {
	want, have := env.OperatingSystem, m.OperatingSystem
	if !strings.EqualFold(want.Name, have.Name) {
		return false
	}
	if want.ServicePack != "" && !strings.EqualFold(want.ServicePack, have.ServicePack) {
		return false
	}
	if want.Culture != "" && !strings.EqualFold(want.Culture, have.Culture) {
		return false
	}
	if want.PointerSize != 0 && want.PointerSize != have.PointerSize {
		return false
	}

	for _, app := range env.Applications {
		found := false
		for _, installed := range m.Applications {
			if strings.EqualFold(app.Name, installed.Name) && app.Version == installed.Version {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
