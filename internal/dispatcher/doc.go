// Package dispatcher публикует готовые tasks в шину под leader lock.
//
// Цикл: каждые PollInterval диспетчер пытается взять lock (SET NX PX).
// Лидер продлевает lock, пока работает, запускает due workflows,
// выбирает готовые tasks и публикует их, затем отпускает lock.
// Между тиками lock не удерживается: любой экземпляр может стать
// лидером на следующем тике.
package dispatcher
