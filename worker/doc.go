/*
Package worker supervises the renderer process and connects to it.

Start launches the renderer through the host shell ("/bin/sh -c" on POSIX, "cmd /c" on Windows) with three environment variables:

	PORT              the TCP port the renderer must listen on, on 127.0.0.1
	LOG               the renderer log level ("minimal" or "verbose")
	GLOBAL_RENDERER   absolute path of the global renderer module, only if one is configured

The renderer inherits the host's stdout and stderr. Nothing supervises the process after it is spawned: if it dies, later Connect calls fail with connection refused.
*/
package worker
