// =============================================================================
// MarginFlow 主入口
// =============================================================================
// 一次性 CLI：运行升级图、查看/重置检查点、管理 SQL 检查点表结构
//
// 使用方法:
//
//	marginflow run                              # 运行演示线程
//	marginflow run --thread t-42 --message "…"  # 指定线程与输入
//	marginflow checkpoint show --thread t-42    # 查看检查点
//	marginflow checkpoint reset --thread t-42   # 删除检查点
//	marginflow migrate up                       # 创建 checkpoints 表
//	marginflow version                          # 显示版本信息
// =============================================================================

package main

import (
	"fmt"
	"os"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
