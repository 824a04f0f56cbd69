package lifecycle

import "strings"

// 分区名前缀固定，版本号由配置注入；同一时刻只允许一组 core/runtime 分区存活。
const (
	corePrefix    = "core-"
	runtimePrefix = "runtime-"
)

// Generation 描述一个缓存代：由版本号派生出 core 与 runtime 两个分区名。
type Generation struct {
	version string
}

// NewGeneration 以版本号创建缓存代描述。
func NewGeneration(version string) Generation {
	return Generation{version: strings.TrimSpace(version)}
}

// Version 返回原始版本号。
func (g Generation) Version() string {
	return g.version
}

// CoreName 返回预热分区名，例如 core-v3。
func (g Generation) CoreName() string {
	return corePrefix + g.version
}

// RuntimeName 返回运行期分区名，例如 runtime-v3。
func (g Generation) RuntimeName() string {
	return runtimePrefix + g.version
}

// Owns 判断分区名是否属于当前代；其余分区在激活阶段视为旧代垃圾。
func (g Generation) Owns(name string) bool {
	return name == g.CoreName() || name == g.RuntimeName()
}

// MatchOrder 返回缓存查找的分区优先级：先 core 后 runtime，
// 与平台缓存按创建顺序匹配的行为一致。
func (g Generation) MatchOrder() []string {
	return []string{g.CoreName(), g.RuntimeName()}
}
