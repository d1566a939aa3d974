// Утилита переноса контента Métrica FM между JSON-зеркалом и хранилищем документов.
// Команды: import, export, seed, verify.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка:", err)
		os.Exit(1)
	}
}
