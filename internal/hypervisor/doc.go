// Package hypervisor provides the virtual machine backend used to power,
// stop and reset Hyper-V test machines.
//
// Backend is the capability consumed by the activators. Memory is an
// in-process implementation with scripted state transitions. Command
// shells out to operator supplied command templates, so any hypervisor
// with a command line (PowerShell Hyper-V cmdlets over ssh, VBoxManage,
// virsh) can back the orchestrator.
package hypervisor
