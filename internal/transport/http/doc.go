// Package http implements the HTTP handlers of the polar service. Handlers
// stay thin: they parse the request, call a service and render the result.
//
// # Routes
//
//	POST   /api/v1/sessions                 upload an export (multipart "file")
//	GET    /api/v1/sessions                 list open sessions
//	GET    /api/v1/sessions/{id}            session info
//	DELETE /api/v1/sessions/{id}            drop a session and its upload
//	POST   /api/v1/sessions/{id}/convert    forward transform, Stokes rows
//	GET    /api/v1/sessions/{id}/properties recomputed polarization properties
//	GET    /api/v1/sessions/{id}/summary    ?format=json|text
//	GET    /api/v1/sessions/{id}/roundtrip  ?tolerance=
//	GET    /api/v1/sessions/{id}/export     ?properties=true|false, CSV download
//	POST   /api/v1/logs                     client log entry
//
// # Error Handling
//
// Errors are rendered as RFC 7807 problem details by errors.ErrorHandler:
//
//	{
//	    "type": "/errors/ingest/missing-column",
//	    "title": "Unprocessable Entity",
//	    "status": 422,
//	    "detail": "no azimuth column found",
//	    "instance": "/api/v1/sessions"
//	}
//
// Non-finite values in row responses are rendered as JSON null.
package http
