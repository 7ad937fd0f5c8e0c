/*
Package http adapts the filesystem gateway to REST endpoints.

# Routes

	GET    /api/files?path=              list a directory
	POST   /api/files {"path"}           create a directory (201)
	DELETE /api/files?path=              delete a file or tree
	PUT    /api/files {"oldPath","newPath"} rename
	GET    /api/download?path=           download a file (Range supported)
	GET    /api/downloadDir?path=&format= download a directory archive
	POST   /api/upload                   multipart: path, folderName, files
	GET    /health
	GET    /metrics

# Errors

Failures carry {"success": false, "error", "kind"}. Kinds map to statuses:
invalid_path and is_a_directory 400, forbidden and permission_denied 403,
not_found 404, conflict 409, io_error 500. Forbidden responses never echo
the rejected path.
*/
package http
