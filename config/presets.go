package config

// Named configurations, picked with --type. Every preset is merged over
// DefaultPreset, so it only lists what it changes.
const (
	DefaultPreset     = "default"
	LocalPreset       = "local"
	SlurmSSHPreset    = "slurm.ssh"
	SlurmMPIPreset    = "slurm.mpi"
	SlurmSubmitPreset = "slurm.submit"
	DynamicPreset     = "dynamic"
)

var presets = map[string]string{
	DefaultPreset: `
hosts:
  type: auto
  tag: ""
  cores: "1"
  gpus_per_node: 0
  hosts: []
  ppn: 1
  nhosts: 1
executor:
  type: ssh
  workdir: ""
  catch_output: true
  append_output: ""
  prefix: ""
  completion: wrap
  timed_runtime: 0s
  mpi_prefix: ""
  submit_params: ""
  submit_interval: 1s
  cleanup: false
  ssh:
    numactl: ""
    user: ""
    port: 22
    timeout: 30s
    known_hosts: ""
    identity_files: []
    retry_delay: 3s
  mpi:
    flavor: mpirun
    hostfile_switch: -machinefile
    cores_per_node: 0
source:
  type: file
  path: commandlines
  commands: []
  dir: ""
  root: ""
  cores: "1"
  cores_per_node: 0
  schedule: default
  cap: 0
  sleep:
    count: 10
    tmin: 1
    tmax: 5
    barrier: 0
    cores: 1
    seed: 0
job:
  type: ClassicLauncher
  delay: 500ms
  task_max_runtime: 0
  max_runtime: 0s
  queue_state: queuestate
  uniform_cores: 1
  debug_mode: false
`,

	LocalPreset: `
hosts:
  type: local
  nhosts: 4
executor:
  type: local
job:
  type: LocalLauncher
`,

	SlurmSSHPreset: `
hosts:
  type: slurm
executor:
  type: ssh
job:
  type: ClassicLauncher
`,

	SlurmMPIPreset: `
hosts:
  type: slurm
executor:
  type: mpi
  catch_output: false
job:
  type: MPILauncher
`,

	SlurmSubmitPreset: `
hosts:
  type: local
  nhosts: 1
executor:
  type: submit
  completion: bare
  submit_params: "-p normal -N 1 -t 0:10:00"
job:
  type: SubmitLauncher
`,

	DynamicPreset: `
hosts:
  type: auto
executor:
  type: ssh
source:
  type: dir
  dir: .
  root: command
job:
  type: DirLauncher
`,
}

// Presets lists the names of the known configurations.
func Presets() []string {
	return []string{DefaultPreset, LocalPreset, SlurmSSHPreset, SlurmMPIPreset, SlurmSubmitPreset, DynamicPreset}
}
