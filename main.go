package main

import (
	"context"
	"log"

	"github.com/techagentng/servicelink/config"
	"github.com/techagentng/servicelink/db"
	"github.com/techagentng/servicelink/server"
	"github.com/techagentng/servicelink/services"
	"github.com/techagentng/servicelink/ws"
)

func main() {
	conf, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	gormDB := db.GetDB(conf)
	chatRepo := db.NewChatRepo(gormDB)
	userRepo := db.NewUserRepo(gormDB)
	bookingRepo := db.NewBookingRepo(gormDB)

	// push delivery is best effort; without credentials the service
	// runs with pushes disabled
	var notifier services.PushNotifier
	if conf.GoogleApplicationCredentials != "" {
		notifier, err = services.NewFCMNotifier(context.Background(), conf.GoogleApplicationCredentials)
		if err != nil {
			log.Printf("push notifications disabled: %v", err)
			notifier = services.NewNoopNotifier()
		}
	} else {
		notifier = services.NewNoopNotifier()
	}

	chatService := services.NewChatService(chatRepo, userRepo, bookingRepo, notifier, conf)

	hub := ws.NewHub()
	gateway := ws.NewGateway(hub, chatService, conf)

	s := &server.Server{
		Config:         conf,
		ChatService:    chatService,
		UserRepository: userRepo,
		Gateway:        gateway,
		DB:             *gormDB,
	}

	s.Start()
}
