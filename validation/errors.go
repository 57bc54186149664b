package validation

import "errors"

var (
	errEmptyPrompt           = errors.New("validation: prompt is empty after sanitization")
	errInvalidFormat         = errors.New("validation: invalid format")
	errTooManyAttachments    = errors.New("validation: too many attachments")
	errInvalidAttachmentType = errors.New("validation: invalid attachment type")
	errAttachmentTooLarge    = errors.New("validation: attachment exceeds size limit")
)
