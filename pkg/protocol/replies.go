package protocol

// Server replies that clients need to recognise in the byte stream
const (
	// DownloadConfirmation follows the raw bytes of a successful download
	DownloadConfirmation = "File downloaded successfully."
	// FileNotFoundPrefix precedes the requested name when it is not in the catalog
	FileNotFoundPrefix = "File not found: "
	// ReadFailedPrefix precedes the requested name when a cataloged file cannot be opened
	ReadFailedPrefix = "Could not read file: "
	// DownloadUsage is sent for a /download without exactly one file name
	DownloadUsage = "Invalid command. Usage: /download <filename>"
)
