package metadata

import (
	"path"
	"strings"
)

// DefaultFileType describes files whose extension is unknown.
const DefaultFileType = "Binary File"

var fileTypes = map[string]string{
	// Text and documents
	"txt":  "Text File",
	"doc":  "Microsoft Word Document",
	"docx": "Microsoft Word Document (Open XML)",
	"pdf":  "PDF Document",
	"rtf":  "Rich Text Format",
	"odt":  "OpenDocument Text Document",

	// Spreadsheets
	"xls":  "Microsoft Excel Spreadsheet",
	"xlsx": "Microsoft Excel Spreadsheet (Open XML)",
	"csv":  "Comma-Separated Values",
	"ods":  "OpenDocument Spreadsheet",

	// Presentations
	"ppt":  "Microsoft PowerPoint Presentation",
	"pptx": "Microsoft PowerPoint Presentation (Open XML)",
	"odp":  "OpenDocument Presentation",

	// Images
	"jpg":  "JPEG Image",
	"jpeg": "JPEG Image",
	"png":  "Portable Network Graphics",
	"gif":  "Graphics Interchange Format",
	"bmp":  "Bitmap Image",
	"tiff": "Tagged Image File Format",
	"svg":  "Scalable Vector Graphics",

	// Audio
	"mp3":  "MP3 Audio",
	"wav":  "Waveform Audio File Format",
	"aac":  "Advanced Audio Coding",
	"flac": "Free Lossless Audio Codec",
	"ogg":  "Ogg Vorbis Audio",
	"m4a":  "MPEG-4 Audio",

	// Video
	"mp4": "MPEG-4 Video",
	"avi": "Audio Video Interleave",
	"mov": "QuickTime Movie",
	"wmv": "Windows Media Video",
	"flv": "Flash Video",
	"mkv": "Matroska Video",

	// Archives
	"zip": "ZIP Archive",
	"rar": "RAR Archive",
	"7z":  "7-Zip Archive",
	"tar": "Tape Archive",
	"gz":  "GZIP Archive",

	// Source code
	"py":   "Python Script",
	"js":   "JavaScript File",
	"html": "HTML Document",
	"css":  "Cascading Style Sheets",
	"java": "Java Source File",
	"c":    "C Source File",
	"cpp":  "C++ Source File",
	"cs":   "C# Source File",
	"go":   "Go Source File",
	"php":  "PHP Script",
	"rb":   "Ruby Script",
	"sql":  "SQL File",

	// Executables and images of disks
	"exe": "Windows Executable",
	"dll": "Dynamic Link Library",
	"bat": "Batch File",
	"sh":  "Shell Script",
	"iso": "ISO Disc Image",

	// Misc
	"json": "JSON File",
	"xml":  "XML File",
	"yaml": "YAML File",
	"yml":  "YAML File",
	"ini":  "Configuration File",
	"log":  "Log File",
	"md":   "Markdown File",
	"bin":  "Binary File",
}

// FileType describes a file by its extension.
func FileType(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if t, ok := fileTypes[ext]; ok {
		return t
	}
	return DefaultFileType
}
