package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"tender-harvester/internal/observability"
)

// GracefulShutdown запускает мониторинг OS сигналов и возвращает context для отмены.
// Первый сигнал отменяет context (работа завершается между страницами/тендерами),
// второй завершает процесс сразу.
func GracefulShutdown(logger *observability.Logger) (context.Context, context.CancelFunc) {
	// Канал для сигналов ОС
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	return watchSignals(logger, sigChan, func() {
		logger.Warn("Second signal received, exiting immediately")
		os.Exit(130)
	}, func() { signal.Stop(sigChan) })
}

// watchSignals: горутина живёт до возврата stop, даже если сигнал уже был
func watchSignals(logger *observability.Logger, sigChan <-chan os.Signal, hardExit func(), stopNotify func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received, finishing current work", "signal", sig.String())
			cancel()
		case <-done:
			return
		}

		select {
		case <-sigChan:
			hardExit()
		case <-done:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			stopNotify()
			close(done)
			cancel()
			<-exited
		})
	}
}
