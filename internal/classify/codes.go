package classify

// Raw engine failure codes. The numbering follows the ranges common to media
// engines: 1xxx miscellaneous, 2xxx input/output, 3xxx parsing, 4xxx
// decoding, 5xxx audio output, 6xxx DRM.
const (
	CodeUnspecified             = 1000
	CodeRemoteError             = 1001
	CodeBehindLiveWindow        = 1002
	CodeTimeout                 = 1003
	CodeIOUnspecified           = 2000
	CodeIONetworkFailed         = 2001
	CodeIONetworkTimeout        = 2002
	CodeIOInvalidContentType    = 2003
	CodeIOBadHTTPStatus         = 2004
	CodeIOFileNotFound          = 2005
	CodeIONoPermission          = 2006
	CodeIOCleartextNotPermitted = 2007
	CodeIOReadOutOfRange        = 2008
	CodeParsingContainerBad     = 3001
	CodeParsingManifestBad      = 3002
	CodeParsingContainerUnsupp  = 3003
	CodeParsingManifestUnsupp   = 3004
	CodeDecoderInitFailed       = 4001
	CodeDecoderQueryFailed      = 4002
	CodeDecodingFailed          = 4003
	CodeDecodingExceedsCaps     = 4004
	CodeDecodingFormatUnsupp    = 4005
	CodeAudioTrackInitFailed    = 5001
	CodeAudioTrackWriteFailed   = 5002
	CodeDRMUnspecified          = 6000
	CodeDRMLast                 = 6008
)

// CodeRejectedByPolicy is reported when a target fails allow-list validation.
const CodeRejectedByPolicy = CodeIOCleartextNotPermitted

var codeKinds = map[int]Kind{
	CodeUnspecified:             KindUnknown,
	CodeRemoteError:             KindUnknown,
	CodeBehindLiveWindow:        KindStreamUnavailable,
	CodeTimeout:                 KindTimeout,
	CodeIOUnspecified:           KindNetwork,
	CodeIONetworkFailed:         KindNetwork,
	CodeIONetworkTimeout:        KindTimeout,
	CodeIOInvalidContentType:    KindStreamUnavailable,
	CodeIOBadHTTPStatus:         KindStreamUnavailable,
	CodeIOFileNotFound:          KindStreamUnavailable,
	CodeIONoPermission:          KindAuthRequired,
	CodeIOCleartextNotPermitted: KindAuthRequired,
	CodeIOReadOutOfRange:        KindStreamUnavailable,
	CodeParsingContainerBad:     KindStreamUnavailable,
	CodeParsingManifestBad:      KindStreamUnavailable,
	CodeParsingContainerUnsupp:  KindCodecUnsupported,
	CodeParsingManifestUnsupp:   KindCodecUnsupported,
	CodeDecoderInitFailed:       KindCodecUnsupported,
	CodeDecoderQueryFailed:      KindCodecUnsupported,
	CodeDecodingFailed:          KindCodecUnsupported,
	CodeDecodingExceedsCaps:     KindCodecUnsupported,
	CodeDecodingFormatUnsupp:    KindCodecUnsupported,
	CodeAudioTrackInitFailed:    KindUnknown,
	CodeAudioTrackWriteFailed:   KindUnknown,
}

// KindForCode returns the kind for a raw code.
func KindForCode(code int) Kind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	if code >= CodeDRMUnspecified && code <= CodeDRMLast {
		return KindAuthRequired
	}
	return KindUnknown
}
