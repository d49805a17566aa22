package encoder

import (
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Format selects the muxer and where its output goes.
type Format string

const (
	// HLS writes a playlist and MPEG-TS segments into the stream directory.
	HLS Format = "hls"
	// DASH writes an MPD manifest and fragmented MP4 segments into the
	// stream directory.
	DASH Format = "dash"
	// HLSPush uploads playlist and segments to an HTTP endpoint with PUT.
	HLSPush Format = "hlspush"
)

var globalArgs = []string{"-hide_banner", "-nostdin", "-loglevel", "warning"}

// buildArgs compiles the ffmpeg command line for opts. User options are
// applied over the format defaults, so any of them can be overridden.
func buildArgs(opts Options) []string {
	in := ffmpeg.KwArgs{}
	for k, v := range opts.InputOptions {
		in[k] = v
	}

	out := formatDefaults(opts.Format)
	if opts.Format == HLSPush && opts.Token != "" {
		out["headers"] = "Authorization: Bearer " + opts.Token + "\r\n"
	}
	for k, v := range opts.OutputOptions {
		out[k] = v
	}

	return ffmpeg.Input(opts.Source, in).
		Output(outputTarget(opts), out).
		GlobalArgs(globalArgs...).
		OverWriteOutput().
		GetArgs()
}

func formatDefaults(format Format) ffmpeg.KwArgs {
	switch format {
	case DASH:
		return ffmpeg.KwArgs{
			"c:v":               "copy",
			"c:a":               "aac",
			"f":                 "dash",
			"seg_duration":      "2",
			"window_size":       "6",
			"extra_window_size": "2",
			"use_template":      "1",
			"use_timeline":      "1",
			"remove_at_exit":    "1",
		}
	case HLSPush:
		// No delete_segments: ffmpeg would send DELETE requests for
		// expired segments and the origin only takes PUT and POST.
		return ffmpeg.KwArgs{
			"c:v":           "copy",
			"c:a":           "aac",
			"f":             "hls",
			"method":        "PUT",
			"hls_time":      "2",
			"hls_list_size": "6",
		}
	default:
		return ffmpeg.KwArgs{
			"c:v":                  "copy",
			"c:a":                  "aac",
			"f":                    "hls",
			"hls_time":             "2",
			"hls_list_size":        "6",
			"hls_flags":            "delete_segments",
			"hls_segment_filename": "segment_%05d.ts",
		}
	}
}

// outputTarget is relative to the stream directory, which is the working
// directory of the encoder, unless it is an upload URL.
func outputTarget(opts Options) string {
	if opts.Output != "" {
		return opts.Output
	}
	if opts.Format == DASH {
		return "manifest.mpd"
	}
	return "index.m3u8"
}
