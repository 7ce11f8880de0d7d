package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandWatch は監視デーモンモードで起動することを示す。
	CommandWatch Command = "watch"
	// CommandReset はウォーターマークのリセットを実行することを示す。
	// 引数でsubredditを指定した場合はそのsubredditのみ、
	// 省略した場合は全subredditをリセットする。
	CommandReset Command = "reset"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandWatchを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandWatch
	}

	switch args[0] {
	case "watch":
		return CommandWatch
	case "reset":
		return CommandReset
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandWatch
	}
}
