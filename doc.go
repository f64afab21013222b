/*
Package ssr renders pages by delegating to a separately running renderer process, typically a Node.js worker that executes the application's JavaScript renderer.

New spawns the renderer and Render sends it one request per call over a fresh local TCP connection:

	r, err := ssr.New(ssr.Config{
		Port:           9000,
		WorkerPath:     "./node_modules/ssr-rs/worker.js",
		GlobalRenderer: "./js/ssr.js",
	})
	if err != nil {
		return err
	}
	defer r.Close()

	html, err := r.Render(ctx, req.URL, data, ssr.Global)

Errors from New are *InitError and errors from Render are *RenderError; both can be matched by kind with errors.Is against the Err* sentinels. A renderer exception is reported as ErrJSException with the renderer's message.

If the renderer process dies it is not restarted. Subsequent renders fail with ErrConnection once the connect retries are exhausted.
*/
package ssr
