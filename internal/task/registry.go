package task

// Task is one named, user-invocable pipeline. Tasks are registered in a
// fixed order: the order below is the usage listing and there is no
// dependency graph behind it; each task's action sequences its own
// prerequisites explicitly.
type Task struct {
	Name string
	Args string
	Desc string
	// Transcribed tasks tee their command transcript into the dump
	// directory.
	Transcribed bool
	Run         func(p *Pipeline) error
}

// Tasks is the fixed task menu, in display and dispatch order.
var Tasks = []Task{
	{"build", "", "Build vendored components, bootloader, kernel and apps", true,
		func(p *Pipeline) error { return p.Build() }},
	{"make_iso", "", "Build everything and produce the bootable image and ISO", true,
		func(p *Pipeline) error { return p.MakeISO() }},
	{"make_netdev", "", "Create the bridge+tap pair for guest networking", false,
		func(p *Pipeline) error { return p.MakeNetdev() }},
	{"del_netdev", "", "Remove the bridge+tap pair", false,
		func(p *Pipeline) error { return p.DelNetdev() }},
	{"run", "", "Build, package and launch the emulator", true,
		func(p *Pipeline) error { return p.Run() }},
	{"run_nographic", "", "Build, package and launch the emulator without a display", true,
		func(p *Pipeline) error { return p.RunNographic() }},
	{"run_with_gdb", "", "Build, package and launch the emulator halted for gdb", true,
		func(p *Pipeline) error { return p.RunWithGdb() }},
	{"monitor", "", "Attach to the emulator monitor endpoint", false,
		func(p *Pipeline) error { return p.Monitor() }},
	{"gdb", "", "Attach rust-gdb to the emulator debug endpoint", false,
		func(p *Pipeline) error { return p.Gdb() }},
	{"dump", "", "Disassemble the kernel and bootloader into the dump directory", true,
		func(p *Pipeline) error { return p.Dump() }},
	{"clean", "", "Remove generated output, vendored builds and downloads", false,
		func(p *Pipeline) error { return p.Clean() }},
	{"dist", "", "Package the system image for distribution (zstd + checksums)", true,
		func(p *Pipeline) error { return p.Dist() }},
	{"upload", "", "Push dist artifacts to the configured mirror", false,
		func(p *Pipeline) error { return p.Upload() }},
	{"log", "", "Browse dump-directory logs in a TUI", false, nil},
	{"test", "<kernel-path>", "Run one kernel test binary under the exit-code protocol", true, nil},
}

// lookupTask finds a task by name.
func lookupTask(name string) (Task, bool) {
	for _, t := range Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return Task{}, false
}
