// Package environment turns machine descriptions into live test
// environments.
//
// An Activator brings a machine online, finds the agent that signed in from
// it and returns an ActiveEnvironment. Activation runs the same three steps
// for every machine kind:
//
//  1. Ensure the machine is online. Physical machines are pinged and woken
//     over the network if needed. Hyper-V machines first get their host
//     woken, are checked to be off and are then started.
//  2. Discover the agent endpoint, waiting for its sign-in if it has not
//     signed in yet. On failure the step 1 rollback runs.
//  3. Wrap the agent in an ActiveEnvironment whose Shutdown tears the
//     machine down again. For Hyper-V this stops the VM, waits for it to
//     turn off and restores its snapshot.
//
// The machine kind specific parts live behind the Variant interface.
package environment
