package main

import (
	"fmt"
	"log"
	"time"

	"github.com/appserver-io/memcached/pkg/client"
	"github.com/appserver-io/memcached/pkg/config"
	"github.com/pkg/errors"
)

func main() {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	c := client.NewWithConfig(cfg)
	defer c.Close()

	fmt.Println("=== memcached client example ===")
	fmt.Printf("Nodes: %v\n", c.Nodes())

	fmt.Println("\n--- Storage ---")

	if err := c.Set(&client.Item{Key: "user:1", Value: []byte("john_doe")}); err != nil {
		log.Printf("set failed: %v", err)
	} else {
		fmt.Println("✓ set user:1 = john_doe")
	}

	if item, err := c.Get("user:1"); err != nil {
		log.Printf("get failed: %v", err)
	} else {
		fmt.Printf("✓ get user:1 = %s\n", item.Value)
	}

	if err := c.Add(&client.Item{Key: "user:1", Value: []byte("jane_doe")}); errors.Cause(err) == client.ErrNotStored {
		fmt.Println("✓ add user:1 refused, key exists")
	} else if err != nil {
		log.Printf("add failed: %v", err)
	}

	if err := c.Append(&client.Item{Key: "user:1", Value: []byte("@example.com")}); err != nil {
		log.Printf("append failed: %v", err)
	} else {
		fmt.Println("✓ append user:1")
	}

	fmt.Println("\n--- Counters ---")

	if err := c.Set(&client.Item{Key: "counter", Value: []byte("0")}); err != nil {
		log.Printf("set failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if n, err := c.Incr("counter", 1); err != nil {
			log.Printf("incr failed: %v", err)
		} else {
			fmt.Printf("✓ incr counter = %d\n", n)
		}
	}
	if n, err := c.Decr("counter", 5); err != nil {
		log.Printf("decr failed: %v", err)
	} else {
		fmt.Printf("✓ decr counter by 5 = %d\n", n)
	}

	fmt.Println("\n--- Expiration ---")

	if err := c.Set(&client.Item{Key: "temp_key", Value: []byte("temp_value"), Expiration: 2}); err != nil {
		log.Printf("set with expiration failed: %v", err)
	} else {
		fmt.Println("✓ set temp_key with 2s expiration")
	}

	time.Sleep(3 * time.Second)
	if _, err := c.Get("temp_key"); errors.Cause(err) == client.ErrCacheMiss {
		fmt.Println("✓ temp_key expired")
	} else {
		log.Printf("temp_key still present: %v", err)
	}

	fmt.Println("\n--- Multi get ---")

	items, err := c.GetMulti([]string{"user:1", "counter", "temp_key"})
	if err != nil {
		log.Printf("get_multi failed: %v", err)
	}
	for key, item := range items {
		fmt.Printf("✓ %s = %s\n", key, item.Value)
	}

	if err := c.Delete("user:1"); err != nil {
		log.Printf("delete failed: %v", err)
	} else {
		fmt.Println("✓ delete user:1")
	}

	fmt.Println("\n=== Example completed ===")
}
