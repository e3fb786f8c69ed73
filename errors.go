package goreason

import "errors"

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("goreason: document not found")

	// ErrDocumentExists is returned when trying to ingest a duplicate path.
	ErrDocumentExists = errors.New("goreason: document already exists")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("goreason: unsupported document format")

	// ErrParsingFailed is returned when document parsing fails.
	ErrParsingFailed = errors.New("goreason: parsing failed")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("goreason: embedding generation failed")

	// ErrLLMUnavailable is returned when the LLM provider is unreachable.
	ErrLLMUnavailable = errors.New("goreason: LLM provider unavailable")

	// ErrLLMRequestFailed is returned when an LLM request fails.
	ErrLLMRequestFailed = errors.New("goreason: LLM request failed")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("goreason: store is closed")

	// ErrNoResults is returned when retrieval yields no matching chunks.
	ErrNoResults = errors.New("goreason: no results found")

	// ErrLowConfidence is returned when the answer confidence is below threshold.
	ErrLowConfidence = errors.New("goreason: answer confidence below threshold")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("goreason: invalid configuration")

	// ErrVisionRequired is returned when a document requires vision processing
	// but no vision provider is configured.
	ErrVisionRequired = errors.New("goreason: vision provider required for this document")

	// ErrExternalParserRequired is returned when a legacy format needs an
	// external parsing service that is not configured.
	ErrExternalParserRequired = errors.New("goreason: external parser required for legacy format")

	// ErrUnsupportedType is returned when an ingestion task is submitted for
	// a file type no registered extractor can handle.
	ErrUnsupportedType = errors.New("goreason: unsupported file type")

	// ErrDecodeFailed names the text-decode failure mode. The engine does not
	// return it: a text file that no encoding in the fallback chain decodes
	// makes Ingest return ErrParsingFailed carrying the parser's decode message.
	ErrDecodeFailed = errors.New("goreason: failed to decode file contents")

	// ErrExtractorUnavailable is returned when an extraction stage is
	// missing a required capability (e.g. OCR) rather than having failed.
	ErrExtractorUnavailable = errors.New("goreason: extractor capability unavailable")

	// ErrTaskNotFound is returned when an ingestion task ID is unknown.
	ErrTaskNotFound = errors.New("goreason: ingestion task not found")

	// ErrTaskCancelled is returned when a caller queries or acts on a
	// cancelled ingestion task.
	ErrTaskCancelled = errors.New("goreason: ingestion task cancelled")

	// ErrInvalidJurisdiction is returned when a caller supplies a
	// jurisdiction value outside the known set.
	ErrInvalidJurisdiction = errors.New("goreason: invalid jurisdiction")

	// ErrEmbeddingDimMismatch is returned when an embedding vector's
	// dimension does not match the store's configured dimension.
	ErrEmbeddingDimMismatch = errors.New("goreason: embedding dimension mismatch")
)
