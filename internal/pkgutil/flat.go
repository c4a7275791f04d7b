package pkgutil

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stewardproject/steward/internal/common/fsutil"
	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/pkginfo"
)

const xarPath = "/usr/bin/xar"

// flatPackageInfo is what flat-package archive inspection yields before it
// is folded into the final pkginfo record.
type flatPackageInfo struct {
	Receipts         []pkginfo.Receipt
	ProductVersion   string
	MinimumOSVersion string
}

// getFlatPackageInfo expands the metadata files of a flat package into a
// scratch directory and parses them. PackageInfo receipts win; Distribution
// pkg-refs are used only when no PackageInfo yielded anything.
func getFlatPackageInfo(ctx context.Context, pkgPath string, tempDir *fsutil.TempDir) flatPackageInfo {
	var info flatPackageInfo

	absPkgPath := fsutil.AbsolutePath(pkgPath)
	scratch, err := tempDir.MakeTempDir()
	if err != nil {
		logging.Warnf("could not create scratch dir: %v", err)
		return info
	}
	defer os.RemoveAll(scratch)

	tocResult, err := runCommand(ctx, scratch, xarPath, "-tf", absPkgPath)
	if err != nil || tocResult.ExitCode != 0 {
		logging.Warnf("could not read table of contents for %s", pkgPath)
		return info
	}
	tocEntries := strings.Split(tocResult.Stdout, "\n")

	extract := func(tocEntry string) (string, bool) {
		result, err := runCommand(ctx, scratch, xarPath, "-xf", absPkgPath, tocEntry)
		if err != nil || result.ExitCode != 0 {
			logging.Warnf("an error occurred while extracting %s", tocEntry)
			return "", false
		}
		return filepath.Join(scratch, filepath.FromSlash(tocEntry)), true
	}

	for _, tocEntry := range tocEntries {
		if !strings.HasSuffix(tocEntry, "PackageInfo") {
			continue
		}
		if path, ok := extract(tocEntry); ok {
			info.Receipts = append(info.Receipts, receiptsFromPackageInfoFile(path)...)
		}
	}

	for _, tocEntry := range tocEntries {
		if !strings.HasSuffix(tocEntry, "Distribution") {
			continue
		}
		path, ok := extract(tocEntry)
		if !ok {
			continue
		}
		dist := parseDistFile(path)
		info.ProductVersion = dist.productVersion
		info.MinimumOSVersion = dist.minimumOSVersion
		if len(info.Receipts) == 0 {
			info.Receipts = dist.receipts
		}
		break
	}

	if len(info.Receipts) == 0 {
		logging.Warnf("no receipts found in Distribution or PackageInfo files within the package")
	}
	return info
}

// receiptsFromPackageInfoFile parses a PackageInfo file. There is no
// official documentation for the format; each pkg-info element with an
// identifier and version yields one receipt, with the installed size taken
// from its first payload child when present.
func receiptsFromPackageInfoFile(path string) []pkginfo.Receipt {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var receipts []pkginfo.Receipt
	decoder := xml.NewDecoder(bytes.NewReader(data))
	var current *pkginfo.Receipt
	sawPayload := false
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch elem := token.(type) {
		case xml.StartElement:
			switch elem.Name.Local {
			case "pkg-info":
				identifier := attrValue(elem, "identifier")
				version := attrValue(elem, "version")
				if identifier != "" && version != "" {
					receipts = append(receipts, pkginfo.Receipt{
						PackageID: identifier,
						Version:   version,
					})
					current = &receipts[len(receipts)-1]
					sawPayload = false
				} else {
					current = nil
				}
			case "payload":
				if current != nil && !sawPayload {
					sawPayload = true
					if kbytes, err := strconv.ParseInt(attrValue(elem, "installKBytes"), 10, 64); err == nil {
						current.InstalledSize = kbytes
					}
				}
			}
		}
	}
	return receipts
}

type distInfo struct {
	productVersion   string
	minimumOSVersion string
	receipts         []pkginfo.Receipt
}

// parseDistFile parses a package Distribution file: product version (the
// highest across product elements), minimum OS version (the highest min
// across the volume-check's allowed os-versions), and pkg-ref receipts.
// pkg-ref elements sharing an id merge; a merged group counts only when it
// has both a file path and a version.
func parseDistFile(path string) distInfo {
	data, err := os.ReadFile(path)
	if err != nil {
		return distInfo{}
	}
	return parseDistData(data)
}

type pkgRef struct {
	version       string
	installKBytes int64
	file          string
}

func parseDistData(data []byte) distInfo {
	var info distInfo
	var productVersions, minOSVersions []string
	pkgRefs := make(map[string]*pkgRef)
	var pkgRefOrder []string

	decoder := xml.NewDecoder(bytes.NewReader(data))
	var currentRef *pkgRef
	var refText strings.Builder
	inVolumeCheck := false
	inAllowedOS := false

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch elem := token.(type) {
		case xml.StartElement:
			switch elem.Name.Local {
			case "product":
				if v := attrValue(elem, "version"); v != "" {
					productVersions = append(productVersions, v)
				}
			case "volume-check":
				inVolumeCheck = true
			case "allowed-os-versions":
				inAllowedOS = inVolumeCheck
			case "os-version":
				if inAllowedOS {
					if min := attrValue(elem, "min"); min != "" {
						minOSVersions = append(minOSVersions, min)
					}
				}
			case "pkg-ref":
				id := attrValue(elem, "id")
				if id == "" {
					currentRef = nil
					break
				}
				ref, ok := pkgRefs[id]
				if !ok {
					ref = &pkgRef{}
					pkgRefs[id] = ref
					pkgRefOrder = append(pkgRefOrder, id)
				}
				if v := attrValue(elem, "version"); v != "" {
					ref.version = v
				}
				if kb, err := strconv.ParseInt(attrValue(elem, "installKBytes"), 10, 64); err == nil {
					ref.installKBytes = kb
				}
				currentRef = ref
				refText.Reset()
			}
		case xml.CharData:
			if currentRef != nil {
				refText.Write(elem)
			}
		case xml.EndElement:
			switch elem.Name.Local {
			case "volume-check":
				inVolumeCheck = false
				inAllowedOS = false
			case "allowed-os-versions":
				inAllowedOS = false
			case "pkg-ref":
				if currentRef != nil {
					if text := strings.TrimSpace(refText.String()); text != "" {
						currentRef.file = partialFileURLToRelativePath(text)
					}
					currentRef = nil
				}
			}
		}
	}

	info.productVersion = pkginfo.MaxVersion(productVersions)
	info.minimumOSVersion = pkginfo.MaxVersion(minOSVersions)
	for _, id := range pkgRefOrder {
		ref := pkgRefs[id]
		if ref.file != "" && ref.version != "" {
			info.receipts = append(info.receipts, pkginfo.Receipt{
				PackageID:     id,
				Version:       ref.version,
				InstalledSize: ref.installKBytes,
			})
		}
	}
	return info
}

// partialFileURLToRelativePath converts the partial file URLs found in
// Distribution pkg-refs ("#flash.pkg", "flash%20player.pkg") to relative
// file paths.
func partialFileURLToRelativePath(partialURL string) string {
	trimmed := strings.TrimPrefix(partialURL, "#")
	if u, err := url.Parse(trimmed); err == nil {
		base := &url.URL{Scheme: "file", Path: "/"}
		resolved := base.ResolveReference(u)
		return strings.TrimPrefix(resolved.Path, "/")
	}
	if unescaped, err := url.PathUnescape(trimmed); err == nil {
		return unescaped
	}
	return trimmed
}

func attrValue(elem xml.StartElement, name string) string {
	for _, attr := range elem.Attr {
		if attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}
