// Package router 实现按请求类别分派的缓存策略：文档走"网络优先 + 预取 +
// 超时回退"，样式/脚本走 stale-while-revalidate，图片/字体走"缓存优先 +
// 后台刷新"，其余站内 GET 走只读缓存兜底，非 GET 与外域请求原样透传。
//
// 策略通过注册表绑定到请求类别，派发入口实现 server.EdgeHandler；
// 所有后台缓存写入都是 fire-and-forget，失败只记日志，绝不阻塞响应路径。
package router
