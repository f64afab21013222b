/*
Package protocol implements the framing used between the host and the renderer process.

Each render uses its own TCP connection. The host sends exactly one request frame and the renderer answers with the rendered text, then closes the connection.

The request frame is:

	[4 bytes meta length, big-endian][4 bytes data length, big-endian][meta][data]

Meta is the JSON encoding of an Envelope. Data is the JSON encoding of the caller payload, re-encoded as a JSON string in which '<', '>' and '&' are written as \u003c, \u003e and \u0026. The renderer embeds the data string into markup, so these characters must never appear literally.

The response has no length prefix. The host reads until the renderer closes the connection. A response that starts with "ERROR:" carries the renderer's exception description after the first colon; anything else is the rendered output.
*/
package protocol
