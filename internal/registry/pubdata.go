package registry

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/crates-hub/crates-hub/internal/apierror"
	"github.com/crates-hub/crates-hub/internal/crate"
)

// minPubDataLength 是两段长度前缀加最小 JSON 对象的下限。
const minPubDataLength = 10

// PubData 是 cargo publish 请求体解码后的两段内容。
type PubData struct {
	Metadata  crate.Metadata
	CrateData []byte
}

// ParsePubData 解码 publish 载荷：u32-LE 元数据长度、元数据 JSON、
// u32-LE 压缩包长度、压缩包字节。所有边界检查先于任何解析发生。
func ParsePubData(body []byte) (*PubData, *apierror.APIError) {
	if len(body) < minPubDataLength {
		return nil, apierror.New(apierror.TitleInvalidInput,
			fmt.Sprintf("Invalid min. length. %d/%d bytes.", len(body), minPubDataLength))
	}

	metaLen := uint64(binary.LittleEndian.Uint32(body[0:4]))
	metaEnd := 4 + metaLen
	if metaEnd+4 > uint64(len(body)) {
		return nil, apierror.New(apierror.TitleInvalidInput,
			fmt.Sprintf("Invalid metadata length: %d bytes.", metaLen))
	}

	var meta crate.Metadata
	if err := json.Unmarshal(body[4:metaEnd], &meta); err != nil {
		return nil, apierror.New(apierror.TitleInvalidInput,
			"Invalid metadata: "+err.Error())
	}

	crateLen := uint64(binary.LittleEndian.Uint32(body[metaEnd : metaEnd+4]))
	crateStart := metaEnd + 4
	if crateStart+crateLen > uint64(len(body)) {
		return nil, apierror.New(apierror.TitleInvalidInput,
			fmt.Sprintf("Invalid crate length: %d bytes.", crateLen))
	}

	return &PubData{
		Metadata:  meta,
		CrateData: body[crateStart : crateStart+crateLen],
	}, nil
}
